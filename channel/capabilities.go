package channel

// ChannelClass drives how rich content degrades to text.
type ChannelClass string

const CLASS_MARKUP ChannelClass = "markup"
const CLASS_TERSE ChannelClass = "terse"
const CLASS_VOICE ChannelClass = "voice"

type ButtonStyle string

const BUTTONS_INLINE ButtonStyle = "inline"
const BUTTONS_QUICK_REPLY ButtonStyle = "quick-reply"
const BUTTONS_NONE ButtonStyle = "none"

type Capabilities struct {
	MaxButtons           int
	MaxTextLength        int
	SupportsMedia        bool
	SupportsLocation     bool
	SupportsLists        bool
	SupportsCards        bool
	SupportsQuickReplies bool
	SupportsRichText     bool
	SupportsNumericMenu  bool
	ButtonStyle          ButtonStyle
	Class                ChannelClass
}

// capabilityTable is the static channel registry. New channels are added
// here, not by changing adapter logic.
var capabilityTable = map[string]Capabilities{
	"web": {
		MaxButtons:           8,
		MaxTextLength:        4000,
		SupportsMedia:        true,
		SupportsLocation:     true,
		SupportsLists:        true,
		SupportsCards:        true,
		SupportsQuickReplies: true,
		SupportsRichText:     true,
		ButtonStyle:          BUTTONS_INLINE,
		Class:                CLASS_MARKUP,
	},
	"whatsapp": {
		MaxButtons:       3,
		MaxTextLength:    1024,
		SupportsMedia:    true,
		SupportsLocation: true,
		SupportsLists:    true,
		SupportsRichText: true,
		ButtonStyle:      BUTTONS_QUICK_REPLY,
		Class:            CLASS_MARKUP,
	},
	"messenger": {
		MaxButtons:           3,
		MaxTextLength:        2000,
		SupportsMedia:        true,
		SupportsCards:        true,
		SupportsQuickReplies: true,
		ButtonStyle:          BUTTONS_QUICK_REPLY,
		Class:                CLASS_MARKUP,
	},
	"sms": {
		MaxButtons:          0,
		MaxTextLength:       320,
		SupportsNumericMenu: true,
		ButtonStyle:         BUTTONS_NONE,
		Class:               CLASS_TERSE,
	},
	"voice": {
		MaxButtons:          0,
		MaxTextLength:       600,
		SupportsNumericMenu: true,
		ButtonStyle:         BUTTONS_NONE,
		Class:               CLASS_VOICE,
	},
}

// fallbackCapabilities is the most conservative rendering target; unknown
// channels degrade to it instead of failing.
var fallbackCapabilities = Capabilities{
	MaxButtons:    0,
	MaxTextLength: 320,
	ButtonStyle:   BUTTONS_NONE,
	Class:         CLASS_TERSE,
}

func CapabilitiesFor(channel string) Capabilities {
	if caps, ok := capabilityTable[channel]; ok {
		return caps
	}
	return fallbackCapabilities
}

func KnownChannels() []string {
	out := make([]string, 0, len(capabilityTable))
	for name := range capabilityTable {
		out = append(out, name)
	}
	return out
}
