package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ChoiceCount struct {
	Choice int64 `json:"choice"`
	Votes  int   `json:"votes"`
}

type TallyResponse struct {
	ElectionID int64         `json:"election_id"`
	TotalVotes int           `json:"total_votes"`
	Choices    []ChoiceCount `json:"choices"`
}
