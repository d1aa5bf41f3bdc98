package payroll

import "time"

const dateLayout = "2006-01-02"

// CreateCycleRequest is the manual-entry payload.
type CreateCycleRequest struct {
	FromDate string `json:"fromDate" validate:"required,datetime=2006-01-02"`
	ToDate   string `json:"toDate" validate:"required,datetime=2006-01-02"`
}

// UpdateCycleRequest changes a pending cycle's window.
type UpdateCycleRequest struct {
	FromDate string `json:"fromDate" validate:"required,datetime=2006-01-02"`
	ToDate   string `json:"toDate" validate:"required,datetime=2006-01-02"`
}

// CycleResponse is the wire representation of a cycle.
type CycleResponse struct {
	ID                  string     `json:"id"`
	FromDate            string     `json:"fromDate"`
	ToDate              string     `json:"toDate"`
	State               CycleState `json:"state"`
	Processed           bool       `json:"processed"`
	Processing          bool       `json:"processing"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty"`
	AddedDate           time.Time  `json:"addedDate"`
}

func toCycleResponse(c Cycle) CycleResponse {
	processed, processing := c.State.Flags()
	return CycleResponse{
		ID:                  c.ID.String(),
		FromDate:            c.FromDate.Format(dateLayout),
		ToDate:              c.ToDate.Format(dateLayout),
		State:               c.State,
		Processed:           processed,
		Processing:          processing,
		ProcessingStartedAt: c.ProcessingStartedAt,
		AddedDate:           c.AddedDate,
	}
}

func toCycleResponses(cycles []Cycle) []CycleResponse {
	out := make([]CycleResponse, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, toCycleResponse(c))
	}
	return out
}
