package loadgen

import (
	"fmt"
	"math/rand"

	"github.com/okian/festboard/internal/domain/model"
)

var grades = []model.Grade{model.GradeA, model.GradeB, model.GradeC, model.GradeNone} //nolint:gochecknoglobals // read-only

// generatePlacements creates three placements per program. Group programs
// place teams, single programs place students; no entity places twice in
// one program.
func generatePlacements(cfg *Config) []placement {
	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // reproducible load, not security
	out := make([]placement, 0, cfg.Programs*3)

	for p := 0; p < cfg.Programs; p++ {
		eventType, kind, pool, prefix := model.EventSingle, model.KindStudent, cfg.Students, "S"
		if cfg.Teams >= 3 && (cfg.Students < 3 || rng.Intn(4) == 0) {
			eventType, kind, pool, prefix = model.EventGroup, model.KindTeam, cfg.Teams, "T"
		}

		for place, idx := range rng.Perm(pool)[:3] {
			out = append(out, placement{
				record: model.Record{
					ProgramID:  fmt.Sprintf("prog-%04d", p),
					EntityID:   fmt.Sprintf("%s%04d", prefix, idx),
					EntityKind: kind,
					Placement:  place + 1,
					Grade:      grades[rng.Intn(len(grades))],
					EventType:  eventType,
				},
				approve: rng.Float64() < cfg.ApproveRatio,
			})
		}
	}
	return out
}
