package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/persondetect/pkg/config"
	"github.com/cyclopcam/persondetect/pkg/detect"
	"github.com/cyclopcam/persondetect/pkg/labeldb"
	"github.com/cyclopcam/persondetect/pkg/nn"
	"github.com/cyclopcam/persondetect/pkg/nnload"
	"github.com/cyclopcam/persondetect/pkg/onnx"
	"github.com/cyclopcam/persondetect/pkg/perfstats"
	"github.com/cyclopcam/persondetect/pkg/pipeline"
	"github.com/cyclopcam/persondetect/pkg/videox"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

// Command line values. Empty or zero means "not specified", so the config value stands.
type flagValues struct {
	input         string
	output        string
	codec         string
	model         string
	modelDir      string
	modelURL      string
	backend       string
	onnxLibrary   string
	upscale       float64
	tiled         bool
	labels        string
	labelDB       string
	snapshotDir   string
	snapshotEvery int
}

func applyFlags(cfg *config.Config, f flagValues) {
	overrideString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	overrideString(&cfg.Input, f.input)
	overrideString(&cfg.Output, f.output)
	overrideString(&cfg.Codec, f.codec)
	overrideString(&cfg.Model, f.model)
	overrideString(&cfg.ModelDir, f.modelDir)
	overrideString(&cfg.ModelURL, f.modelURL)
	overrideString(&cfg.Backend, f.backend)
	overrideString(&cfg.OnnxLibrary, f.onnxLibrary)
	overrideString(&cfg.LabelsFile, f.labels)
	overrideString(&cfg.LabelDB, f.labelDB)
	overrideString(&cfg.SnapshotDir, f.snapshotDir)
	if f.upscale != 0 {
		cfg.UpscaleFactor = f.upscale
	}
	if f.tiled {
		cfg.Tiled = true
	}
	if f.snapshotEvery != 0 {
		cfg.SnapshotEvery = f.snapshotEvery
	}
}

func detectorConfig(cfg *config.Config) (detect.Config, error) {
	backend, err := nnload.ParseBackend(cfg.Backend)
	if err != nil {
		return detect.Config{}, err
	}
	return detect.Config{
		ModelRef:      cfg.Model,
		UpscaleFactor: cfg.UpscaleFactor,
		Tiled:         cfg.Tiled,
		Params: nn.DetectionParams{
			ProbabilityThreshold: cfg.ProbabilityThreshold,
			NmsIouThreshold:      cfg.NmsIouThreshold,
		},
		Load: nnload.Options{
			ModelDir:      cfg.ModelDir,
			DownloadURL:   cfg.ModelURL,
			Backend:       backend,
			ThreadingMode: nn.ThreadingModeParallel,
		},
	}, nil
}

// Run the pipeline, and write the side outputs.
// An input or output video that can't be opened is reported, but is not an error.
func process(logger logs.Log, cfg *config.Config, detector pipeline.PersonDetector, openSource pipeline.OpenSourceFunc, openSink pipeline.OpenSinkFunc) error {
	timing := perfstats.NewStages()
	options := pipeline.Options{
		ProgressInterval: cfg.ProgressInterval,
		CollectLabels:    cfg.LabelsFile != "",
		Timing:           timing,
	}
	if cfg.SnapshotDir != "" {
		options.Snapshots = &videox.Snapshots{Dir: cfg.SnapshotDir, Every: cfg.SnapshotEvery}
	}
	if cfg.LabelDB != "" {
		options.OpenLabelDB = pipeline.LabelDBFile(logger, cfg.LabelDB, cfg.Input, cfg.Output, cfg.Model, cfg.UpscaleFactor)
	}

	result, err := pipeline.Run(logger, detector, openSource, openSink, options)
	if errors.Is(err, videox.ErrSourceUnavailable) || errors.Is(err, videox.ErrSinkUnavailable) {
		logger.Errorf("%v", err)
		return nil
	} else if err != nil {
		return err
	}

	if result.LabelRun != nil {
		logger.Infof("Detections recorded in %v as run %v", cfg.LabelDB, result.LabelRun.ID)
	}
	if cfg.LabelsFile != "" {
		if err := pipeline.WriteLabels(cfg.LabelsFile, result.Labels); err != nil {
			return fmt.Errorf("Failed to write labels: %w", err)
		}
		logger.Infof("Labels saved to %v", cfg.LabelsFile)
	}
	if result.Frames != 0 {
		logger.Infof("Average per frame: %v", timing.Summary())
	}
	logger.Infof("Processing complete. %v frames, %v people. Output saved to %v", result.Frames, result.Detections, cfg.Output)
	return nil
}

type runDump struct {
	Run        *labeldb.Run        `json:"run"`
	Detections []labeldb.Detection `json:"detections"`
}

// Write a previously recorded run as JSON
func dumpRun(logger logs.Log, dbFile string, runID int64, w io.Writer) error {
	db, err := labeldb.Open(logger, dbFile)
	if err != nil {
		return err
	}
	defer db.Close()
	dump := runDump{}
	if dump.Run, err = db.Run(runID); err != nil {
		return fmt.Errorf("Run %v: %w", runID, err)
	}
	if dump.Detections, err = db.Detections(runID); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&dump)
}

func main() {
	parser := argparse.NewParser("persondetect", "Find people in a video, and write a copy of the video with the people boxed")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON config file", Required: false})
	input := parser.String("i", "input", &argparse.Options{Help: "Input video file (default crowd.mp4)", Required: false})
	output := parser.String("o", "output", &argparse.Options{Help: "Output video file (default output/result_final.mp4)", Required: false})
	codec := parser.String("", "codec", &argparse.Options{Help: "Fourcc of the output video (default mp4v)", Required: false})
	model := parser.String("m", "model", &argparse.Options{Help: "NN model name, or path to an .onnx file (default yolov8l)", Required: false})
	modelDir := parser.String("", "modeldir", &argparse.Options{Help: "Path to NN model dir (default models)", Required: false})
	modelURL := parser.String("", "modelurl", &argparse.Options{Help: "Download missing models from this URL", Required: false})
	backend := parser.Selector("b", "backend", nnload.AllBackends, &argparse.Options{Help: "NN inference backend", Required: false})
	onnxLibrary := parser.String("", "onnxlib", &argparse.Options{Help: "Path to the onnxruntime shared library", Required: false})
	upscale := parser.Float("u", "upscale", &argparse.Options{Help: "Scale frames by this factor before detection (default 1.0)", Required: false, Default: 0.0})
	tiled := parser.Flag("t", "tiled", &argparse.Options{Help: "Split frames that are larger than the model into tiles", Default: false})
	labels := parser.String("", "labels", &argparse.Options{Help: "Write detections to this JSON file", Required: false})
	labelDB := parser.String("", "db", &argparse.Options{Help: "Record detections in this sqlite database", Required: false})
	dumpRunID := parser.Int("", "dump-run", &argparse.Options{Help: "Print a run that was recorded in the --db database as JSON, and exit", Required: false, Default: 0})
	snapshotDir := parser.String("", "snapshots", &argparse.Options{Help: "Save annotated JPEG snapshots into this directory", Required: false})
	snapshotEvery := parser.Int("", "snapshot-every", &argparse.Options{Help: "Save a snapshot every N frames (default 30)", Required: false, Default: 0})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)
	defer logger.Close()

	cfg := config.Default()
	if *configFile != "" {
		cfg, err = config.LoadConfig(*configFile)
		check(err)
	}
	applyFlags(cfg, flagValues{
		input:         *input,
		output:        *output,
		codec:         *codec,
		model:         *model,
		modelDir:      *modelDir,
		modelURL:      *modelURL,
		backend:       *backend,
		onnxLibrary:   *onnxLibrary,
		upscale:       *upscale,
		tiled:         *tiled,
		labels:        *labels,
		labelDB:       *labelDB,
		snapshotDir:   *snapshotDir,
		snapshotEvery: *snapshotEvery,
	})

	if *dumpRunID != 0 {
		if cfg.LabelDB == "" {
			fmt.Printf("--dump-run needs a database (--db)\n")
			os.Exit(1)
		}
		check(dumpRun(logger, cfg.LabelDB, int64(*dumpRunID), os.Stdout))
		return
	}

	check(cfg.Validate())

	onnx.SharedLibraryPath = cfg.OnnxLibrary
	detConfig, err := detectorConfig(cfg)
	check(err)
	detector, err := detect.New(logger, detConfig)
	check(err)
	defer detector.Close()
	modelConfig := detector.ModelConfig()
	logger.Infof("Model %v is %v x %v, with %v classes", cfg.Model, modelConfig.Width, modelConfig.Height, len(modelConfig.Classes))

	check(process(logger, cfg, detector, pipeline.FileSource(cfg.Input), pipeline.FileSink(cfg.Output, cfg.Codec)))
}
