package station

import (
	"fmt"
	"math"

	"github.com/nerrad567/station-bridge/internal/device"
)

// LocalForm is the payload of a command on the local channel.
type LocalForm struct {
	Command  string   `json:"command"`
	Volume   *float64 `json:"volume,omitempty"`
	Position *float64 `json:"position,omitempty"`
	Text     string   `json:"text,omitempty"`
	Action   string   `json:"action,omitempty"`
}

// CloudForm is the cloud server action for a command.
type CloudForm struct {
	Instance string
	Value    string
}

// Expect is the state a successful command leads to.
type Expect struct {
	Volume  *float64
	Playing *bool
}

// Command is one speaker instruction. Either form may be absent; a
// command with no form usable in the current mode is a no-op.
type Command struct {
	Name  string
	Local *LocalForm
	Cloud *CloudForm
	// Expect is applied to the observed state after a successful send.
	Expect Expect
}

// Navigation actions for the local "control" command.
const (
	NavUp    = "up"
	NavDown  = "down"
	NavLeft  = "left"
	NavRight = "right"
	NavClick = "click"
	NavHome  = "go_home"
	NavBack  = "go_back"
)

// RepeatMode selects the player repeat behaviour.
type RepeatMode string

// Repeat modes.
const (
	RepeatNone RepeatMode = "none"
	RepeatOne  RepeatMode = "one"
	RepeatAll  RepeatMode = "all"
)

func local(command string) *LocalForm {
	return &LocalForm{Command: command}
}

func text(value string) *CloudForm {
	return &CloudForm{Instance: device.InstanceText, Value: value}
}

func playing(v bool) Expect {
	return Expect{Playing: &v}
}

// PlayCommand resumes playback.
func PlayCommand() Command {
	return Command{Name: "play", Local: local("play"), Cloud: text("продолжи"), Expect: playing(true)}
}

// PauseCommand pauses playback.
func PauseCommand() Command {
	return Command{Name: "pause", Local: local("stop"), Cloud: text("пауза"), Expect: playing(false)}
}

// NextCommand skips to the next track.
func NextCommand() Command {
	return Command{Name: "next", Local: local("next"), Cloud: text("следующий трек")}
}

// PrevCommand returns to the previous track.
func PrevCommand() Command {
	return Command{Name: "prev", Local: local("prev"), Cloud: text("предыдущий трек")}
}

// RewindCommand seeks to position seconds. Local only.
func RewindCommand(position float64) Command {
	return Command{
		Name:  "rewind",
		Local: &LocalForm{Command: "rewind", Position: &position},
	}
}

// VolumeCommand sets the volume, clamped to [0, 1]. The cloud form
// rounds to the speaker's ten-step scale.
func VolumeCommand(v float64) Command {
	v = clampVolume(v)
	return Command{
		Name:   "volume_set",
		Local:  &LocalForm{Command: "setVolume", Volume: &v},
		Cloud:  text(fmt.Sprintf("громкость на %d", int(math.Round(v*10)))),
		Expect: Expect{Volume: &v},
	}
}

// ShuffleCommand turns shuffle on or off. Cloud only.
func ShuffleCommand(enable bool) Command {
	phrase := "выключи перемешивание"
	if enable {
		phrase = "включи перемешивание"
	}
	return Command{Name: "shuffle", Cloud: text(phrase)}
}

// RepeatCommand sets the repeat mode. Cloud only.
func RepeatCommand(mode RepeatMode) (Command, error) {
	var phrase string
	switch mode {
	case RepeatNone:
		phrase = "выключи повтор"
	case RepeatOne:
		phrase = "повторяй этот трек"
	case RepeatAll:
		phrase = "повторяй все треки"
	default:
		return Command{}, fmt.Errorf("%w: repeat mode %q", ErrInvalidArgument, mode)
	}
	return Command{Name: "repeat", Cloud: text(phrase)}, nil
}

// NavigationCommand moves the on-screen selection. Home and back also
// have cloud forms; the directional actions are local only.
func NavigationCommand(action string) Command {
	cmd := Command{
		Name:  "nav_" + action,
		Local: &LocalForm{Command: "control", Action: action},
	}
	switch action {
	case NavHome:
		cmd.Cloud = text("домой")
	case NavBack:
		cmd.Cloud = text("назад")
	}
	return cmd
}

// PowerCommand asks the speaker to switch on or off.
func PowerCommand(on bool) Command {
	phrase := "выключись"
	if on {
		phrase = "включись"
	}
	return Command{
		Name:  "power",
		Local: &LocalForm{Command: "sendText", Text: phrase},
		Cloud: text(phrase),
	}
}

// SayCommand makes the speaker pronounce text.
func SayCommand(s string) Command {
	return Command{
		Name:  "say",
		Local: &LocalForm{Command: "sendText", Text: fmt.Sprintf("Повтори за мной '%s'", s)},
		Cloud: &CloudForm{Instance: device.InstancePhrase, Value: s},
	}
}

// SendCommand makes the speaker act as if it heard text.
func SendCommand(s string) Command {
	return Command{
		Name:  "send",
		Local: &LocalForm{Command: "sendText", Text: s},
		Cloud: text(s),
	}
}

// probeCommand asks for the software version. It doubles as the
// capability probe after each local open.
func probeCommand() LocalForm {
	return LocalForm{Command: "softwareVersion"}
}
