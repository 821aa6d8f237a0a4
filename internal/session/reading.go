package session

import (
	"context"
	"time"
)

// Reading is one temperature row handed to the save_point sink.
type Reading struct {
	Time       time.Time `json:"time"`
	Device     string    `json:"device"`
	BrewName   string    `json:"brew"`
	RunID      string    `json:"runId"`
	BeerTemp   *float64  `json:"beerTemp"`
	BeerSet    *float64  `json:"beerSet"`
	BeerAnn    string    `json:"beerAnn,omitempty"`
	FridgeTemp *float64  `json:"fridgeTemp"`
	FridgeSet  *float64  `json:"fridgeSet"`
	FridgeAnn  string    `json:"fridgeAnn,omitempty"`
	RoomTemp   *float64  `json:"roomTemp"`
	State      *int      `json:"state"`
	TempFormat string    `json:"tempFormat"`
}

// Sink receives readings while logging is active.
type Sink interface {
	SavePoint(ctx context.Context, r Reading) error
}
