// Package database provides the SQLite store for Station Bridge.
//
// The bridge persists little: the last known local address of each
// speaker, so a restart can reach speakers before discovery finds them
// again.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named "<YYYYMMDD>_<HHMMSS>_<name>.up.sql" with an
// optional ".down.sql" counterpart. Each runs in its own transaction.
package database
