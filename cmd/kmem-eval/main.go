package main

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mit-pdos/go-journal/util"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/mit-pdos/xv6-kmem/eval"
)

// PrintObservations prints observations for manual inspection
func printObservations(w io.Writer, obs []eval.Observation) {
	for _, o := range obs {
		val := o.Values["val"].(float64)
		fmt.Fprintf(w, "%f ", val)
		for _, kv := range o.Config.Flatten().Pairs() {
			fmt.Fprintf(w, "%s=%v ", kv.Key, kv.Val)
		}
		fmt.Fprintf(w, "\n")
	}
}

var suiteFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:  "randomize",
		Value: true,
		Usage: "randomize order of running benchmarks",
	},
	&cli.IntFlag{
		Name:  "iters",
		Value: 1,
		Usage: "number of iterations to run each configuration",
	},
	&cli.IntFlag{
		Name:  "ncpu",
		Value: eval.DefaultMachine().NCPU,
		Usage: "number of cores",
	},
	&cli.Uint64Flag{
		Name:  "pages",
		Value: eval.DefaultMachine().Pages,
		Usage: "number of allocatable pages",
	},
	&cli.Uint64Flag{
		Name:  "blocks",
		Value: eval.DefaultMachine().Blocks,
		Usage: "size of the in-memory disk (in blocks)",
	},
	&cli.IntFlag{
		Name:  "ops",
		Value: 10000,
		Usage: "operations per core in each benchmark",
	},
	&cli.StringFlag{
		Name:  "out",
		Value: "",
		Usage: "file to output to (use .gz extension for compression)",
	},
	&cli.BoolFlag{
		Name:  "flatten",
		Value: true,
		Usage: "flatten output configurations for compatibility with pandas",
	},
	&cli.Uint64Flag{
		Name:        "debug",
		Value:       0,
		Usage:       "debug level (higher is more verbose)",
		Destination: &util.Debug,
	},
}

// WriteObservations saves observations in JSON (possibly compressed) to a file
func writeObservations(outFile string, obs []eval.Observation) error {
	f, err := os.Create(outFile)
	if err != nil {
		return errors.Wrapf(err, "could not create output file %s", outFile)
	}
	var out io.WriteCloser = f
	if strings.HasSuffix(outFile, ".gz") {
		out = gzip.NewWriter(f)
	}
	err = eval.WriteObservations(out, obs)
	if err != nil {
		return errors.Wrap(err, "could not write output")
	}
	if err := out.Close(); err != nil {
		return err
	}
	if out != f {
		return f.Close()
	}
	return nil
}

// OutputObservations outputs based on flags
func OutputObservations(c *cli.Context, obs []eval.Observation) error {
	outFile := c.String("out")
	if c.Bool("flatten") {
		for i := range obs {
			obs[i].Config = obs[i].Config.Flatten()
		}
	}
	if outFile == "" {
		printObservations(os.Stdout, obs)
		return nil
	}
	return writeObservations(outFile, obs)
}

func machine(c *cli.Context) eval.Machine {
	m := eval.DefaultMachine()
	m.NCPU = c.Int("ncpu")
	m.Pages = c.Uint64("pages")
	m.Blocks = c.Uint64("blocks")
	return m
}

func initializeSuite(c *cli.Context) *eval.BenchmarkSuite {
	return &eval.BenchmarkSuite{
		Iters:     c.Int("iters"),
		Randomize: c.Bool("randomize"),
	}
}

func runSuite(c *cli.Context, suite *eval.BenchmarkSuite) error {
	bar := progressbar.Default(int64(len(suite.Workloads())), "running")
	obs, err := suite.Run(func() { bar.Add(1) })
	if err != nil {
		return err
	}
	return OutputObservations(c, obs)
}

var benchCommand = &cli.Command{
	Name:  "bench",
	Usage: "run each benchmark once per iteration",
	Action: func(c *cli.Context) error {
		suite := initializeSuite(c)
		suite.Machines = []eval.Machine{machine(c)}
		suite.Benches = eval.BenchSuite(c.Int("ops"))
		return runSuite(c, suite)
	},
}

var scaleCommand = &cli.Command{
	Name:  "scale",
	Usage: "benchmark with a varying number of cores",
	Flags: []cli.Flag{&cli.IntFlag{
		Name:  "max-cpus",
		Value: 8,
		Usage: "maximum number of cores to run till",
	}},
	Action: func(c *cli.Context) error {
		suite := initializeSuite(c)
		suite.Machines = eval.ScaleMachines(machine(c), c.Int("max-cpus"))
		suite.Benches = eval.BenchSuite(c.Int("ops"))
		return runSuite(c, suite)
	},
}

var stealCommand = &cli.Command{
	Name:  "steal",
	Usage: "benchmark alloc-churn with varying steal batch sizes",
	Flags: []cli.Flag{&cli.IntSliceFlag{
		Name:  "batch",
		Value: cli.NewIntSlice(1, 16, 256, 1024),
		Usage: "steal batch sizes to try",
	}},
	Action: func(c *cli.Context) error {
		suite := initializeSuite(c)
		suite.Machines = eval.StealBatchMachines(machine(c), c.IntSlice("batch"))
		suite.Benches = []eval.Benchmark{eval.AllocChurnBench(c.Int("ops"), 64)}
		return runSuite(c, suite)
	},
}

func main() {
	app := &cli.App{
		Usage: "run allocator and buffer cache benchmarks",
		Flags: suiteFlags,
		Commands: []*cli.Command{
			benchCommand,
			scaleCommand,
			stealCommand,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
