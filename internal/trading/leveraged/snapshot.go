package leveraged

import (
	"encoding/json"
	"fmt"
	"math"

	apperrors "leveraged/pkg/errors"
)

// fingerprint identifies the parameters a stored state was fitted with
type fingerprint struct {
	Asym     float64 `json:"asym"`
	ExtBal   float64 `json:"ext_bal"`
	Power    float64 `json:"power"`
	LongOnly bool    `json:"longonly"`
}

type snapshot struct {
	State
	Cfg fingerprint `json:"cfg"`
}

func quantize(v float64) float64 {
	return math.Trunc(v*1000) / 1000
}

func fingerprintOf(cfg *Config) fingerprint {
	return fingerprint{
		Asym:     quantize(cfg.Asym),
		ExtBal:   quantize(cfg.ExternalBalance),
		Power:    quantize(cfg.Power),
		LongOnly: cfg.LongOnly,
	}
}

// ExportState serializes the state together with the config fingerprint
func (s *Strategy) ExportState() ([]byte, error) {
	return json.Marshal(snapshot{State: s.st, Cfg: fingerprintOf(s.cfg)})
}

// ImportState restores a serialized state. A state fitted with different
// parameters is refitted, either keeping the neutral price or at the stored
// last price.
func (s *Strategy) ImportState(data []byte, mi MarketInfo) (*Strategy, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidSnapshot, err)
	}

	calc := s.calc
	if inst := mi.Instrument(); !calc.IsValid(inst) {
		calc = calc.Init(inst)
	}
	st := snap.State
	nw := &Strategy{calc: calc, cfg: s.cfg, adj: s.adj, st: st}
	if snap.Cfg == fingerprintOf(s.cfg) {
		return nw, nil
	}

	if s.cfg.RecalcKeepNeutral {
		last := st.LastPrice
		st.LastPrice = calc.Price0(st.NeutralPrice, calcAsym(s.cfg, st))
		st.Position = 0
		recalcNewState(calc, s.cfg, &st)
		st.LastPrice = last
		fitted := nw.derive(st)
		st.Position = fitted.calcPosition(last)
		st.Val = calc.PosValue(st.Power, calcAsym(s.cfg, st), st.NeutralPrice, last)
	} else {
		recalcNewState(calc, s.cfg, &st)
	}
	return nw.derive(st), nil
}
