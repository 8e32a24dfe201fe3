package models

// CommunityItem is one shared entry in the community catalogue.
type CommunityItem struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Downloads   int      `json:"downloads"`
	Rating      float64  `json:"rating"`
	UserID      string   `json:"user_id"`
	CreatedAt   string   `json:"created_at"`
}

// BrowseResult is one page of the community catalogue.
type BrowseResult struct {
	Items []CommunityItem `json:"items"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

// SharePayload publishes a private item to the community.
type SharePayload struct {
	UserID      string   `json:"user_id"`
	DataType    string   `json:"data_type"`
	Filename    string   `json:"filename"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// MemoryData is the long-term memory list kept per character.
type MemoryData struct {
	Entries []string `json:"entries"`
}
