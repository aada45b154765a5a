package model

// Response is the channel-neutral shape produced by a step. The channel
// adapter turns it into whatever a concrete channel can carry.
type Response struct {
	Text            string        `json:"text"`
	Buttons         []Button      `json:"buttons,omitempty"`
	Cards           []Card        `json:"cards,omitempty"`
	Media           *Media        `json:"media,omitempty"`
	List            []ListSection `json:"list,omitempty"`
	RequestLocation bool          `json:"requestLocation,omitempty"`
}

type Button struct {
	Id    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

type Card struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	MediaURL string   `json:"mediaUrl,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

type Media struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

type ListSection struct {
	Title string     `json:"title"`
	Items []ListItem `json:"items"`
}

type ListItem struct {
	Id          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}
