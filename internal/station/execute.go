package station

import (
	"context"
	"fmt"
)

// CommandRequest is a named command with its arguments, as received
// from MQTT or the HTTP API.
type CommandRequest struct {
	Command  string   `json:"command"`
	Text     string   `json:"text,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
	Position *float64 `json:"position,omitempty"`
	Step     float64  `json:"step,omitempty"`
	Enable   *bool    `json:"enable,omitempty"`
	Mode     string   `json:"mode,omitempty"`
}

// Execute runs a named command.
func (s *Station) Execute(ctx context.Context, req CommandRequest) error {
	switch req.Command {
	case "say", "send":
		if req.Text == "" {
			return fmt.Errorf("%w: %s needs text", ErrInvalidArgument, req.Command)
		}
		if req.Command == "say" {
			return s.Say(ctx, req.Text, req.Volume)
		}
		return s.Send(ctx, req.Text, req.Volume)
	case "play":
		return s.Play(ctx)
	case "pause":
		return s.Pause(ctx)
	case "next":
		return s.Next(ctx)
	case "prev":
		return s.Prev(ctx)
	case "rewind":
		if req.Position == nil {
			return fmt.Errorf("%w: rewind needs position", ErrInvalidArgument)
		}
		return s.Rewind(ctx, *req.Position)
	case "shuffle":
		if req.Enable == nil {
			return fmt.Errorf("%w: shuffle needs enable", ErrInvalidArgument)
		}
		return s.Shuffle(ctx, *req.Enable)
	case "repeat":
		return s.Repeat(ctx, RepeatMode(req.Mode))
	case "volume_set":
		if req.Volume == nil {
			return fmt.Errorf("%w: volume_set needs volume", ErrInvalidArgument)
		}
		return s.VolumeSet(ctx, *req.Volume)
	case "volume_up":
		return s.VolumeUp(ctx, req.Step)
	case "volume_down":
		return s.VolumeDown(ctx, req.Step)
	case "up":
		return s.Up(ctx)
	case "down":
		return s.Down(ctx)
	case "left":
		return s.Left(ctx)
	case "right":
		return s.Right(ctx)
	case "click":
		return s.Click(ctx)
	case "home":
		return s.Home(ctx)
	case "back":
		return s.Back(ctx)
	case "power":
		if req.Enable == nil {
			return fmt.Errorf("%w: power needs enable", ErrInvalidArgument)
		}
		return s.Power(ctx, *req.Enable)
	case "connect":
		return s.Connect(ctx)
	case "disconnect":
		return s.Disconnect(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
	}
}
