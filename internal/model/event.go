package model

// Event is a one-way campaign lifecycle notification.
type Event interface {
	CampaignID() string
	Kind() string
	event()
}

// Started is emitted once a campaign request has been accepted.
type Started struct {
	ID      string `json:"campaign_id"`
	Message string `json:"message"`
}

// Progress reports phase progress as a percentage in [0,100].
type Progress struct {
	ID         string `json:"campaign_id"`
	Phase      Status `json:"phase"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
}

// Completed carries the final stats of a persisted campaign.
type Completed struct {
	ID      string `json:"campaign_id"`
	Stats   Stats  `json:"stats"`
	Message string `json:"message"`
}

// Failed reports a campaign that ended without being persisted.
type Failed struct {
	ID      string `json:"campaign_id"`
	Message string `json:"message"`
}

func (e Started) CampaignID() string   { return e.ID }
func (e Progress) CampaignID() string  { return e.ID }
func (e Completed) CampaignID() string { return e.ID }
func (e Failed) CampaignID() string    { return e.ID }

func (Started) Kind() string   { return "started" }
func (Progress) Kind() string  { return "progress" }
func (Completed) Kind() string { return "completed" }
func (Failed) Kind() string    { return "failed" }

func (Started) event()   {}
func (Progress) event()  {}
func (Completed) event() {}
func (Failed) event()    {}
