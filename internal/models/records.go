package models

// Token is the decoded payload of a memory token.
type Token struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Owners          []string `json:"owners,omitempty"`
	MemoryType      string   `json:"memory_type,omitempty"`
	ValueRating     int      `json:"value_rating,omitempty"`
	Group           string   `json:"group,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	FullDescription string   `json:"full_description,omitempty"`
	RFID            string   `json:"rfid,omitempty"`
}

// Character is the decoded payload of a character sheet.
type Character struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Cluster string `json:"cluster,omitempty"`
	Tier    string `json:"tier,omitempty"`
}

// TimelineEvent is the decoded payload of a backstory timeline entry.
type TimelineEvent struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Date        string   `json:"date,omitempty"`
	Characters  []string `json:"characters,omitempty"`
}

// Photo is the decoded payload of a session photo.
type Photo struct {
	ID         string   `json:"id"`
	Caption    string   `json:"caption"`
	Characters []string `json:"characters,omitempty"`
}
