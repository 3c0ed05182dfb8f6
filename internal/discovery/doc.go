// Package discovery finds the local addresses of speakers.
//
// Browser listens for "_yandexio._tcp" mDNS announcements and stores each
// speaker's address, keyed by the deviceId TXT record. Locator answers
// address lookups for the station package from the store, asking the
// cloud device list when the stored address is missing or old.
//
// Usage:
//
//	store := discovery.NewStore(db)
//	browser := discovery.NewBrowser(cfg.Discovery, store, log.Component("discovery"))
//	browser.SetOnFound(func(ep discovery.Endpoint) { stations.Reconnect(ep.DeviceID) })
//	go browser.Run(ctx)
//
//	locator := discovery.NewLocator(store, cloudClient, 0, log)
package discovery
