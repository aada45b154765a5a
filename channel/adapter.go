package channel

import (
	"fmt"
	"strings"

	"github.com/parley-labs/parley/model"
)

// Rendering is the channel-shaped form of one response, ready for the
// outbound transport.
type Rendering struct {
	Channel         string              `json:"channel"`
	Text            string              `json:"text"`
	Buttons         []model.Button      `json:"buttons,omitempty"`
	Cards           []model.Card        `json:"cards,omitempty"`
	Media           *model.Media        `json:"media,omitempty"`
	List            []model.ListSection `json:"list,omitempty"`
	RequestLocation bool                `json:"requestLocation,omitempty"`
}

type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

// Adapt renders a channel-neutral response into what the named channel can
// carry. It is total: any response and any channel produce a rendering, and
// every dropped rich element leaves a textual trace.
func (a *Adapter) Adapt(response model.Response, channelName string) Rendering {
	return a.AdaptWith(response, channelName, CapabilitiesFor(channelName))
}

func (a *Adapter) AdaptWith(response model.Response, channelName string, caps Capabilities) Rendering {
	r := Rendering{Channel: channelName}
	var extras []string

	r.Text = truncate(response.Text, caps.MaxTextLength)
	r.Buttons = response.Buttons

	if caps.MaxButtons > 0 && len(r.Buttons) > caps.MaxButtons {
		hidden := len(r.Buttons) - caps.MaxButtons
		r.Buttons = r.Buttons[:caps.MaxButtons]
		extras = append(extras, fmt.Sprintf("(+%d more options)", hidden))
	}
	if caps.MaxButtons == 0 && len(r.Buttons) > 0 {
		extras = append(extras, buttonsAsText(r.Buttons, caps))
		r.Buttons = nil
	}

	if len(response.Cards) > 0 {
		if caps.SupportsCards {
			r.Cards = response.Cards
		} else {
			extras = append(extras, cardsAsText(response.Cards, caps.Class))
		}
	}

	if response.Media != nil {
		if caps.SupportsMedia {
			r.Media = response.Media
		} else if caps.Class != CLASS_VOICE {
			trace := response.Media.URL
			if response.Media.Caption != "" {
				trace = fmt.Sprintf("%s (%s)", response.Media.URL, response.Media.Caption)
			}
			extras = append(extras, trace)
		}
	}

	if response.RequestLocation {
		if caps.SupportsLocation {
			r.RequestLocation = true
		} else if caps.Class == CLASS_VOICE {
			extras = append(extras, "Please say your delivery address.")
		} else {
			extras = append(extras, "Please type your address or share coordinates.")
		}
	}

	if len(response.List) > 0 {
		if caps.SupportsLists {
			r.List = response.List
		} else if fits, buttons := listAsButtons(response.List, caps.MaxButtons-len(r.Buttons)); fits {
			r.Buttons = append(r.Buttons, buttons...)
		} else {
			extras = append(extras, listAsText(response.List))
		}
	}

	if len(extras) > 0 {
		// traces for dropped elements must survive the length cap, so the
		// body gives way to them, not the other way around
		trace := strings.Join(extras, "\n")
		body := r.Text
		if caps.MaxTextLength > 0 {
			budget := caps.MaxTextLength - len(trace) - 1
			if budget <= 0 {
				body = ""
			} else {
				body = truncate(body, budget)
			}
		}
		if body == "" {
			r.Text = trace
		} else {
			r.Text = body + "\n" + trace
		}
	}
	r.Text = sanitize(r.Text, caps.Class)
	r.Text = truncate(r.Text, caps.MaxTextLength)
	return r
}

func buttonsAsText(buttons []model.Button, caps Capabilities) string {
	var sb strings.Builder
	if caps.SupportsNumericMenu {
		for i, b := range buttons {
			if i > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(fmt.Sprintf("Press %d for %s.", i+1, b.Label))
		}
		return sb.String()
	}
	sb.WriteString("Reply with a number:")
	for i, b := range buttons {
		sb.WriteString(fmt.Sprintf("\n%d. %s", i+1, b.Label))
	}
	return sb.String()
}

func cardsAsText(cards []model.Card, class ChannelClass) string {
	lines := make([]string, 0, len(cards))
	for _, card := range cards {
		switch class {
		case CLASS_VOICE:
			line := card.Title + "."
			if card.Subtitle != "" {
				line += " " + card.Subtitle + "."
			}
			lines = append(lines, line)
		case CLASS_TERSE:
			line := card.Title
			if card.Subtitle != "" {
				line += ": " + card.Subtitle
			}
			lines = append(lines, line)
		default:
			line := "• " + card.Title
			if card.Subtitle != "" {
				line += " — " + card.Subtitle
			}
			if card.MediaURL != "" {
				line += " (" + card.MediaURL + ")"
			}
			lines = append(lines, line)
		}
	}
	if class == CLASS_TERSE {
		return strings.Join(lines, "; ")
	}
	return strings.Join(lines, "\n")
}

func listAsButtons(sections []model.ListSection, capacity int) (bool, []model.Button) {
	total := 0
	for _, section := range sections {
		total += len(section.Items)
	}
	if capacity < total || total == 0 {
		return false, nil
	}
	buttons := make([]model.Button, 0, total)
	for _, section := range sections {
		for _, item := range section.Items {
			buttons = append(buttons, model.Button{Id: item.Id, Label: item.Title, Value: item.Id})
		}
	}
	return true, buttons
}

func listAsText(sections []model.ListSection) string {
	var sb strings.Builder
	n := 0
	for _, section := range sections {
		if section.Title != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(section.Title + ":")
		}
		for _, item := range section.Items {
			n++
			sb.WriteString(fmt.Sprintf("\n%d. %s", n, item.Title))
			if item.Description != "" {
				sb.WriteString(" - " + item.Description)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

var voiceStrip = strings.NewReplacer("*", "", "_", "", "~", "", "`", "", "#", "", "•", "", "|", "", ">", "")
var terseStrip = strings.NewReplacer("*", "", "_", "", "~", "", "`", "")

func sanitize(text string, class ChannelClass) string {
	switch class {
	case CLASS_VOICE:
		return strings.TrimSpace(voiceStrip.Replace(text))
	case CLASS_TERSE:
		return strings.TrimSpace(terseStrip.Replace(text))
	default:
		return text
	}
}

// truncate cuts at a sentence boundary when one exists past the midpoint,
// then a word boundary, then hard.
func truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := text[:max]
	boundary := -1
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if idx := strings.LastIndex(cut, sep); idx > boundary {
			boundary = idx + 1
		}
	}
	if boundary > max/2 {
		return strings.TrimSpace(cut[:boundary])
	}
	if idx := strings.LastIndex(cut, " "); idx > max/2 {
		return strings.TrimSpace(cut[:idx])
	}
	return cut
}
