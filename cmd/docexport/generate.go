package main

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/logflow/docexport/internal/model"
	"github.com/logflow/docexport/pkg/sources"
)

var (
	genOutput   string
	genRuns     int
	genEvents   int
	genPaged    bool
	genBaseline bool
	genExternal bool
	genSeed     int64
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a synthetic document stream",
	Long: `Generate runs of a simulated motor scan for testing exports. Each run has a
primary stream with a motor position and a detector reading, and optionally
a baseline stream and an externally stored image.

Examples:
  docexport generate -o scan.jsonl --runs 3 --events 100
  docexport generate --paged --baseline --external | docexport export - -f csv`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&genOutput, "output", "o", "-", "Output file (.gz/.zst compress; - for stdout)")
	generateCmd.Flags().IntVar(&genRuns, "runs", 1, "Number of runs")
	generateCmd.Flags().IntVar(&genEvents, "events", 10, "Events per run")
	generateCmd.Flags().BoolVar(&genPaged, "paged", false, "Emit event_page documents instead of events")
	generateCmd.Flags().BoolVar(&genBaseline, "baseline", false, "Add a baseline stream read before and after the scan")
	generateCmd.Flags().BoolVar(&genExternal, "external", false, "Add an image field stored as resource/datum references")
	generateCmd.Flags().Int64Var(&genSeed, "seed", 0, "Random seed (0 uses the clock)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if genRuns < 1 || genEvents < 0 {
		return fmt.Errorf("--runs must be positive and --events not negative")
	}
	out, err := sources.Create(genOutput)
	if err != nil {
		return err
	}
	w := sources.NewWriter(out)

	seed := genSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := &generator{w: w, rng: rand.New(rand.NewSource(seed)), clock: float64(time.Now().Unix())}

	for i := 0; i < genRuns; i++ {
		if err := g.run(i + 1); err != nil {
			out.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	logger.Info("stream generated", "output", genOutput, "runs", genRuns, "events", genEvents)
	return nil
}

type generator struct {
	w     *sources.Writer
	rng   *rand.Rand
	clock float64
}

func (g *generator) tick() float64 {
	g.clock += 0.1 + g.rng.Float64()*0.05
	return g.clock
}

func (g *generator) run(scanID int) error {
	runUID := uuid.NewString()
	if err := g.w.Write(model.KindStart, model.Document{
		"uid":       runUID,
		"time":      g.tick(),
		"scan_id":   scanID,
		"plan_name": "scan",
		"sample":    fmt.Sprintf("sample-%d", g.rng.Intn(10)),
		"motors":    []string{"motor"},
		"detectors": []string{"det"},
	}); err != nil {
		return err
	}

	counts := map[string]int{}

	var baseline string
	if genBaseline {
		baseline = uuid.NewString()
		if err := g.w.Write(model.KindDescriptor, model.Document{
			"uid":       baseline,
			"run_start": runUID,
			"name":      "baseline",
			"time":      g.tick(),
			"data_keys": model.Document{
				"temperature": model.Document{"dtype": "number", "shape": []int{}, "source": "PV:TEMP"},
			},
		}); err != nil {
			return err
		}
		if err := g.baseline(baseline, 1); err != nil {
			return err
		}
		counts["baseline"]++
	}

	keys := model.Document{
		"motor": model.Document{"dtype": "number", "shape": []int{}, "source": "PV:MOTOR"},
		"det":   model.Document{"dtype": "number", "shape": []int{}, "source": "PV:DET"},
	}
	var resource string
	if genExternal {
		keys["image"] = model.Document{"dtype": "array", "shape": []int{4, 4}, "source": "PV:CAM", "external": "FILESTORE:"}
		resource = uuid.NewString()
		if err := g.w.Write(model.KindResource, model.Document{
			"uid":             resource,
			"run_start":       runUID,
			"spec":            "AD_HDF5",
			"root":            "/data",
			"resource_path":   fmt.Sprintf("scan_%d/image.h5", scanID),
			"resource_kwargs": model.Document{"frame_per_point": 1},
			"path_semantics":  "posix",
		}); err != nil {
			return err
		}
	}

	primary := uuid.NewString()
	if err := g.w.Write(model.KindDescriptor, model.Document{
		"uid":         primary,
		"run_start":   runUID,
		"name":        "primary",
		"time":        g.tick(),
		"data_keys":   keys,
		"object_keys": model.Document{"motor": []string{"motor"}, "det": []string{"det"}},
	}); err != nil {
		return err
	}

	page := model.Document{
		"descriptor": primary,
		"uid":        []string{},
		"seq_num":    []int64{},
		"time":       []float64{},
		"data":       map[string][]any{},
		"timestamps": map[string][]float64{},
	}
	for seq := int64(1); seq <= int64(genEvents); seq++ {
		t := g.tick()
		pos := float64(seq) * 0.5
		data := map[string]any{
			"motor": pos,
			"det":   1000*math.Exp(-math.Pow(pos-float64(genEvents)/4, 2)) + g.rng.Float64()*10,
		}
		if genExternal {
			datumID := fmt.Sprintf("%s/%d", resource, seq-1)
			if err := g.w.Write(model.KindDatum, model.Document{
				"datum_id":     datumID,
				"resource":     resource,
				"datum_kwargs": model.Document{"point_number": seq - 1},
			}); err != nil {
				return err
			}
			data["image"] = datumID
		}

		if !genPaged {
			ts := map[string]float64{}
			for k := range data {
				ts[k] = t
			}
			if err := g.w.Write(model.KindEvent, model.Document{
				"uid":        uuid.NewString(),
				"descriptor": primary,
				"seq_num":    seq,
				"time":       t,
				"data":       data,
				"timestamps": ts,
			}); err != nil {
				return err
			}
			continue
		}

		page["uid"] = append(page["uid"].([]string), uuid.NewString())
		page["seq_num"] = append(page["seq_num"].([]int64), seq)
		page["time"] = append(page["time"].([]float64), t)
		cols := page["data"].(map[string][]any)
		stamps := page["timestamps"].(map[string][]float64)
		for k, v := range data {
			cols[k] = append(cols[k], v)
			stamps[k] = append(stamps[k], t)
		}
	}
	if genPaged && genEvents > 0 {
		if err := g.w.Write(model.KindEventPage, page); err != nil {
			return err
		}
	}
	counts["primary"] = genEvents

	if genBaseline {
		if err := g.baseline(baseline, 2); err != nil {
			return err
		}
		counts["baseline"]++
	}

	return g.w.Write(model.KindStop, model.Document{
		"uid":         uuid.NewString(),
		"run_start":   runUID,
		"time":        g.tick(),
		"exit_status": "success",
		"reason":      "",
		"num_events":  counts,
	})
}

func (g *generator) baseline(descriptor string, seq int64) error {
	t := g.tick()
	return g.w.Write(model.KindEvent, model.Document{
		"uid":        uuid.NewString(),
		"descriptor": descriptor,
		"seq_num":    seq,
		"time":       t,
		"data":       model.Document{"temperature": 295 + g.rng.Float64()},
		"timestamps": model.Document{"temperature": t},
	})
}
