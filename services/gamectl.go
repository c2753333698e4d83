package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorcon/rcon"
)

// Game commands understood by the controlled servers. Responses are ad hoc
// text; parsing lives in gamectl_parse.go.
const (
	cmdScore      = "/silent-command rcon.print(global.actions.score())"
	cmdReset      = "/silent-command game.reset_game_state()"
	cmdInventory  = "/silent-command rcon.print(game.table_to_json(game.players[1].get_main_inventory().get_contents()))"
	cmdResearch   = "/silent-command if game.forces.player.current_research then rcon.print(game.forces.player.current_research.name) else rcon.print('none') end"
	cmdProgress   = "/silent-command rcon.print(game.forces.player.research_progress or 0)"
	cmdResearched = "/silent-command local t={} for name,tech in pairs(game.forces.player.technologies) do if tech.researched then table.insert(t, name) end end rcon.print(game.table_to_json(t))"
	cmdProduced   = "/silent-command rcon.print(game.table_to_json(game.forces.player.item_production_statistics.input_counts))"
	cmdConsumed   = "/silent-command rcon.print(game.table_to_json(game.forces.player.item_production_statistics.output_counts))"
)

func cmdSave(name string) string {
	return fmt.Sprintf("/silent-command game.server_save('%s')", name)
}

func cmdRender(radius int) string {
	return fmt.Sprintf("/silent-command rcon.print(game.table_to_json(global.actions.render(1, true, %d, 'none')))", radius)
}

// GameController is the command channel to the process running inside a
// slot. Execute may fail or time out; callers treat the response as an
// opaque string and must tolerate empty or malformed replies.
type GameController interface {
	Execute(ctx context.Context, slot int, command string) (string, error)
}

// RconController speaks RCON to the per-slot game servers. Each call dials a
// fresh connection with a short deadline; there is no retry beyond that.
type RconController struct {
	Host     string
	BasePort int
	Password string
	Timeout  time.Duration
}

func NewRconController(host string, basePort int, password string, timeout time.Duration) *RconController {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RconController{Host: host, BasePort: basePort, Password: password, Timeout: timeout}
}

func (r *RconController) Execute(ctx context.Context, slot int, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	addr := fmt.Sprintf("%s:%d", r.Host, r.BasePort+slot)
	conn, err := rcon.Dial(addr, r.Password,
		rcon.SetDialTimeout(r.Timeout),
		rcon.SetDeadline(r.Timeout),
	)
	if err != nil {
		return "", fmt.Errorf("rcon dial slot %d: %w", slot, err)
	}
	defer conn.Close()

	resp, err := conn.Execute(command)
	if err != nil {
		return "", fmt.Errorf("rcon execute slot %d: %w", slot, err)
	}
	return resp, nil
}

// FetchScore asks a slot for its current score. Any failure degrades to a
// zero score; one slot's problems never block the caller.
func FetchScore(ctx context.Context, game GameController, slot int) ScoreResult {
	resp, err := game.Execute(ctx, slot, cmdScore)
	if err != nil {
		log.Printf("[GameCtl] score query failed for slot %d: %v", slot, err)
		return ScoreResult{Items: map[string]float64{}}
	}
	return ParseScore(resp)
}
