package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glennswest/fattree/pkg/fabric"
	"github.com/glennswest/fattree/pkg/fabric/addr"
)

// RegisterRoutes adds introspection endpoints to the given mux. topo may be
// nil, in which case switch names are omitted and /api/v1/topology is not
// served.
//
//	GET /api/v1/topology                topology description
//	GET /api/v1/switches                connected switches
//	GET /api/v1/switches/{dpid}/macs    learned addresses
//	GET /api/v1/switches/{dpid}/flows   installed flow entries
//	GET /metrics                        prometheus metrics
func (c *Controller) RegisterRoutes(mux *http.ServeMux, topo *fabric.Topology) {
	api := &apiHandler{c: c, topo: topo}
	if topo != nil {
		mux.HandleFunc("/api/v1/topology", api.handleTopology)
	}
	mux.HandleFunc("/api/v1/switches", api.handleSwitches)
	mux.HandleFunc("/api/v1/switches/", api.handleSwitchDetail)
	mux.Handle("/metrics", promhttp.Handler())
}

type apiHandler struct {
	c    *Controller
	topo *fabric.Topology
}

func (a *apiHandler) handleTopology(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, a.topo)
}

func (a *apiHandler) handleSwitches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type switchSummary struct {
		DPID  string `json:"dpid"`
		Name  string `json:"name,omitempty"`
		Tier  string `json:"tier"`
		Ports int    `json:"ports"`
		Macs  int    `json:"macs"`
		Flows int    `json:"flows"`
	}

	out := []switchSummary{}
	for _, dpid := range a.c.Switches() {
		snap, err := a.c.Snapshot(r.Context(), dpid)
		if err != nil {
			// Disconnected while listing.
			continue
		}
		tier, _, _ := addr.SplitDatapathID(dpid)
		sum := switchSummary{
			DPID:  addr.FormatDatapathID(dpid),
			Tier:  tier.String(),
			Ports: len(snap.Ports),
			Macs:  len(snap.Macs),
			Flows: len(snap.Flows),
		}
		if a.topo != nil {
			if sw, ok := a.topo.Switch(dpid); ok {
				sum.Name = sw.Name
			}
		}
		out = append(out, sum)
	}
	writeJSON(w, out)
}

func (a *apiHandler) handleSwitchDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse: /api/v1/switches/{dpid}/macs  or  /api/v1/switches/{dpid}/flows
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/switches/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}

	dpid, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		http.Error(w, "invalid datapath id", http.StatusBadRequest)
		return
	}

	snap, err := a.c.Snapshot(r.Context(), dpid)
	if errors.Is(err, ErrUnknownSwitch) {
		http.Error(w, "switch not connected", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	switch parts[1] {
	case "macs":
		writeJSON(w, snap.Macs)
	case "flows":
		type flowView struct {
			InPort      uint32 `json:"inPort"`
			Src         string `json:"src"`
			Dst         string `json:"dst"`
			OutPort     uint32 `json:"outPort"`
			IdleTimeout string `json:"idleTimeout"`
			HardTimeout string `json:"hardTimeout"`
			Installed   string `json:"installed"`
		}
		out := make([]flowView, 0, len(snap.Flows))
		for _, f := range snap.Flows {
			out = append(out, flowView{
				InPort:      f.Match.InPort,
				Src:         f.Match.Src.String(),
				Dst:         f.Match.Dst.String(),
				OutPort:     f.OutPort,
				IdleTimeout: f.IdleTimeout.String(),
				HardTimeout: f.HardTimeout.String(),
				Installed:   f.Installed.Format("2006-01-02T15:04:05.000Z07:00"),
			})
		}
		writeJSON(w, out)
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
