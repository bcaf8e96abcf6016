package api

import (
	"net/http"

	"github.com/spatialops/moran/internal/model"
)

// kindInfo describes one supported analysis kind and its options.
type kindInfo struct {
	Kind                string   `json:"kind"`
	Kernels             []string `json:"kernels,omitempty"`
	BandwidthSelections []string `json:"bandwidth_selections,omitempty"`
	Criteria            []string `json:"criteria,omitempty"`
	Contiguity          []string `json:"contiguity,omitempty"`
	ResultPrefix        string   `json:"result_prefix"`
	TimeoutSeconds      int      `json:"timeout_seconds"`
}

func (s *Server) handleListKinds(w http.ResponseWriter, _ *http.Request) {
	kinds := make([]kindInfo, 0, len(model.Kinds))
	for _, kind := range model.Kinds {
		info := kindInfo{
			Kind:           kind,
			Kernels:        model.Kernels[kind],
			ResultPrefix:   model.ResultPrefixes[kind],
			TimeoutSeconds: int(s.pipeline.Timeout(kind).Seconds()),
		}
		switch kind {
		case model.KindGWR:
			info.BandwidthSelections = []string{model.SelectionCV, model.SelectionAIC, model.SelectionManual}
		case model.KindMGWR:
			info.Criteria = []string{model.CriterionAICc, model.CriterionAIC, model.CriterionBIC, model.CriterionCV}
		case model.KindLISA:
			info.Contiguity = []string{model.ContiguityQueen, model.ContiguityRook}
		}
		kinds = append(kinds, info)
	}
	s.writeJSON(w, http.StatusOK, kinds)
}
