// Package bridge talks to the on-simulator automation helper over a
// Unix-domain socket using line-delimited JSON.
package bridge

import "encoding/json"

// Command is one request line sent to the helper.
type Command struct {
	ID         int64          `json:"id"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Response is one reply line from the helper. Responses correlate to
// commands by id and may arrive out of order.
type Response struct {
	ID      int64           `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ReadyGreeting is the single line the helper emits after accepting a
// connection, before any responses.
const ReadyGreeting = "[READY]"

// Command type tags understood by the helper.
const (
	CmdPing               = "ping"
	CmdTap                = "tap"
	CmdTapText            = "tap_text"
	CmdTapAccessibilityID = "tap_accessibility_id"
	CmdSwipe              = "swipe"
	CmdTypeText           = "type_text"
	CmdScreenshot         = "screenshot"
	CmdScroll             = "scroll"
	CmdLongPress          = "long_press"
)

// ScreenshotResult is the decoded result of a screenshot command.
type ScreenshotResult struct {
	Data   string `json:"data"` // base64 PNG bytes
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

func Ping() Command {
	return Command{Type: CmdPing}
}

func Tap(x, y float64) Command {
	return Command{Type: CmdTap, Parameters: map[string]any{"x": x, "y": y}}
}

func TapText(text string, timeoutSec float64) Command {
	p := map[string]any{"text": text}
	if timeoutSec > 0 {
		p["timeout"] = timeoutSec
	}
	return Command{Type: CmdTapText, Parameters: p}
}

func TapAccessibilityID(id string, timeoutSec float64) Command {
	p := map[string]any{"accessibility_id": id}
	if timeoutSec > 0 {
		p["timeout"] = timeoutSec
	}
	return Command{Type: CmdTapAccessibilityID, Parameters: p}
}

func Swipe(x1, y1, x2, y2, durationSec float64) Command {
	p := map[string]any{"x1": x1, "y1": y1, "x2": x2, "y2": y2}
	if durationSec > 0 {
		p["duration"] = durationSec
	}
	return Command{Type: CmdSwipe, Parameters: p}
}

func TypeText(text string, clearFirst bool) Command {
	return Command{Type: CmdTypeText, Parameters: map[string]any{"text": text, "clear_first": clearFirst}}
}

func Screenshot() Command {
	return Command{Type: CmdScreenshot}
}

func Scroll(direction string, amount float64) Command {
	p := map[string]any{"direction": direction}
	if amount > 0 {
		p["amount"] = amount
	}
	return Command{Type: CmdScroll, Parameters: p}
}

func LongPress(x, y, durationSec float64) Command {
	p := map[string]any{"x": x, "y": y}
	if durationSec > 0 {
		p["duration"] = durationSec
	}
	return Command{Type: CmdLongPress, Parameters: p}
}
