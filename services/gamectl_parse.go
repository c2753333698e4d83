package services

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Parsers for the ad hoc textual replies the game servers produce. Each one
// is pure and falls back to an explicit zero value when the reply cannot be
// understood, never an error that would block a lifecycle transition.

var luaPlayerScore = regexp.MustCompile(`\["player"\]\s*=\s*(-?\d+)`)

// ScoreResult is the parsed outcome of a score query.
type ScoreResult struct {
	Score float64            `json:"score"`
	Items map[string]float64 `json:"items"`
	Raw   string             `json:"raw,omitempty"`
}

// ParseScore extracts the player score from a score reply. The usual format
// is a Lua table dump like `{ ["player"] = 12345, }`; a JSON object with a
// "player" key is accepted as a fallback. Unparseable input yields score 0.
func ParseScore(resp string) ScoreResult {
	result := ScoreResult{Items: map[string]float64{}}
	if resp == "" {
		return result
	}
	result.Raw = resp

	if m := luaPlayerScore.FindStringSubmatch(resp); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			result.Score = float64(n)
			return result
		}
	}

	var data map[string]float64
	if err := json.Unmarshal([]byte(resp), &data); err == nil {
		result.Score = data["player"]
		result.Items = data
	}
	return result
}

// InventoryData mirrors the shape stored in snapshots.
type InventoryData struct {
	Items map[string]int64 `json:"items"`
	Total int64            `json:"total"`
	Err   string           `json:"error,omitempty"`
}

// ParseInventory decodes the player inventory reply.
func ParseInventory(resp string) InventoryData {
	data := InventoryData{Items: map[string]int64{}}
	if resp == "" || strings.Contains(resp, "Error") {
		return data
	}

	if err := json.Unmarshal([]byte(resp), &data.Items); err != nil {
		data.Items = map[string]int64{}
		data.Err = "parse error"
		return data
	}
	for _, count := range data.Items {
		data.Total += count
	}
	return data
}

// ResearchData holds current research state.
type ResearchData struct {
	CurrentResearch *string  `json:"current_research"`
	Progress        float64  `json:"progress"`
	Researched      []string `json:"researched"`
	Err             string   `json:"error,omitempty"`
}

// ParseResearch combines the three research query replies.
func ParseResearch(current, progress, researched string) ResearchData {
	data := ResearchData{Researched: []string{}}

	current = strings.TrimSpace(current)
	if current != "" && current != "none" {
		data.CurrentResearch = &current
	}

	if p, err := strconv.ParseFloat(strings.TrimSpace(progress), 64); err == nil {
		data.Progress = p
	}

	if researched != "" {
		var techs []string
		if err := json.Unmarshal([]byte(researched), &techs); err == nil {
			data.Researched = techs
		}
	}
	return data
}

// ProductionData holds produced/consumed item counters and their difference.
type ProductionData struct {
	Produced map[string]float64 `json:"produced"`
	Consumed map[string]float64 `json:"consumed"`
	Net      map[string]float64 `json:"net"`
	Err      string             `json:"error,omitempty"`
}

// ParseProduction decodes the produced and consumed counter replies and
// computes net production for every item that moved.
func ParseProduction(produced, consumed string) ProductionData {
	data := ProductionData{
		Produced: map[string]float64{},
		Consumed: map[string]float64{},
		Net:      map[string]float64{},
	}

	if produced != "" && !strings.Contains(produced, "Error") {
		json.Unmarshal([]byte(produced), &data.Produced)
	}
	if consumed != "" && !strings.Contains(consumed, "Error") {
		json.Unmarshal([]byte(consumed), &data.Consumed)
	}

	for item, p := range data.Produced {
		if net := p - data.Consumed[item]; net != 0 {
			data.Net[item] = net
		}
	}
	for item, c := range data.Consumed {
		if _, seen := data.Produced[item]; !seen && c != 0 {
			data.Net[item] = -c
		}
	}
	return data
}

// EntitySummary is one placed entity in a render reply.
type EntitySummary struct {
	Name      string          `json:"name"`
	Position  json.RawMessage `json:"position,omitempty"`
	Direction int             `json:"direction"`
}

// EntityList is a bounded view of the entities around the player.
type EntityList struct {
	Entities []EntitySummary `json:"entities"`
	Total    int             `json:"total"`
	Err      string          `json:"error,omitempty"`
}

type renderReply struct {
	Entities []struct {
		Name      string          `json:"name"`
		Position  json.RawMessage `json:"position"`
		Direction int             `json:"direction"`
	} `json:"entities"`
	WaterRuns []json.RawMessage `json:"water_runs"`
}

// ParseEntities decodes a render reply into a cleaned entity list, capped at
// limit entries.
func ParseEntities(resp string, limit int) EntityList {
	list := EntityList{Entities: []EntitySummary{}}
	if resp == "" || strings.Contains(resp, "Error") {
		return list
	}

	var reply renderReply
	if err := json.Unmarshal([]byte(resp), &reply); err != nil {
		list.Err = "parse error"
		return list
	}

	list.Total = len(reply.Entities)
	for i, e := range reply.Entities {
		if i >= limit {
			break
		}
		list.Entities = append(list.Entities, EntitySummary{
			Name:      strings.Trim(e.Name, `"`),
			Position:  e.Position,
			Direction: e.Direction,
		})
	}
	return list
}

// FactoryData is the aggregate view of a render reply.
type FactoryData struct {
	TotalEntities int            `json:"total_entities"`
	EntityCounts  map[string]int `json:"entity_counts"`
	HasWater      bool           `json:"has_water"`
	Err           string         `json:"error,omitempty"`
}

// ParseFactory aggregates a render reply into per-entity counts.
func ParseFactory(resp string) FactoryData {
	data := FactoryData{EntityCounts: map[string]int{}}
	if resp == "" || strings.Contains(resp, "Error") {
		data.Err = "no data returned"
		return data
	}

	var reply renderReply
	if err := json.Unmarshal([]byte(resp), &reply); err != nil {
		data.Err = "parse error"
		return data
	}

	data.TotalEntities = len(reply.Entities)
	for _, e := range reply.Entities {
		name := strings.Trim(e.Name, `"`)
		if name == "" {
			name = "unknown"
		}
		data.EntityCounts[name]++
	}
	data.HasWater = len(reply.WaterRuns) > 0
	return data
}
