package commands

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/vmtrack/pkg/tracelog"
)

// NewTraceCommand creates the trace command group.
func NewTraceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Validate and generate trace documents",
	}

	cmd.AddCommand(newTraceValidateCommand(), newTraceSynthCommand())

	return cmd
}

// TraceValidateCommand holds the flags for the trace validate command.
type TraceValidateCommand struct {
	schemaPath string
	colorOn    bool
	noColor    bool
}

func newTraceValidateCommand() *cobra.Command {
	vc := &TraceValidateCommand{}

	cmd := &cobra.Command{
		Use:   "validate <trace>",
		Short: "Validate a trace document against the trace schema",
		Long: `Validate a trace document against the trace JSON schema. LZ4-compressed
documents are unwrapped before validation.

Examples:
  vmtrack trace validate app.json
  vmtrack trace validate app.json.lz4
  vmtrack trace validate --schema custom-schema.json app.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return vc.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&vc.schemaPath, "schema", "", "path to a trace JSON schema (default: the embedded schema)")
	cmd.Flags().BoolVar(&vc.colorOn, "color", false, "force colored output")
	cmd.Flags().BoolVar(&vc.noColor, "no-color", false, "disable colored output")

	return cmd
}

func (vc *TraceValidateCommand) run(cmd *cobra.Command, tracePath string) error {
	if vc.noColor {
		color.NoColor = true //nolint:reassign // intentional override of library global
	} else if vc.colorOn {
		color.NoColor = false //nolint:reassign // intentional override of library global
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	maxBytes, err := cfg.Trace.MaxSizeBytes()
	if err != nil {
		return err
	}

	raw, err := tracelog.ReadRaw(tracePath, maxBytes)
	if err != nil {
		return err
	}

	schema, err := vc.loadSchema()
	if err != nil {
		return err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("validate trace: %w", err)
	}

	out := cmd.OutOrStdout()

	if !result.Valid() {
		color.New(color.FgRed).Fprintf(out, "trace validation failed (%s)\n", tracePath)

		for _, violation := range result.Errors() {
			color.New(color.FgRed).Fprintf(out, "  - %s: %s\n", violation.Field(), violation.Description())
		}

		return fmt.Errorf("%w: %d violations", tracelog.ErrInvalidTrace, len(result.Errors()))
	}

	trace, err := tracelog.Decode(raw)
	if err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintf(out, "trace is valid (%s)\n", tracePath)
	fmt.Fprintf(out, "  version: %d\n", trace.Version)

	if trace.Session != "" {
		fmt.Fprintf(out, "  session: %s\n", trace.Session)
	}

	fmt.Fprintf(out, "  events: %d\n", len(trace.Events))

	return nil
}

func (vc *TraceValidateCommand) loadSchema() ([]byte, error) {
	if vc.schemaPath == "" {
		return tracelog.SchemaJSON()
	}

	schema, err := os.ReadFile(vc.schemaPath)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	return schema, nil
}

// TraceSynthCommand holds the flags for the trace synth command.
type TraceSynthCommand struct {
	output  string
	session string
	seed    uint64
	regions int
	churn   int
}

func newTraceSynthCommand() *cobra.Command {
	sc := &TraceSynthCommand{}

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generate a synthetic trace document",
		Long: `Generate a deterministic synthetic trace: a batch of reservations followed
by churn rounds of commits, uncommits, retags, splits and release cycles.
The same seed always yields the same document.

Examples:
  vmtrack trace synth -o synth.json
  vmtrack trace synth -o synth.json.lz4 --regions 32 --churn 500 --seed 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sc.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&sc.output, "output", "o", "trace.json", "Output trace file (.lz4 extension enables compression)")
	cmd.Flags().StringVar(&sc.session, "session", "synth", "Session name recorded in the trace header")
	cmd.Flags().Uint64Var(&sc.seed, "seed", 1, "Generator seed")
	cmd.Flags().IntVar(&sc.regions, "regions", 0, "Reservations to create (default 8)")
	cmd.Flags().IntVar(&sc.churn, "churn", 0, "Churn rounds after the reservations (default 64)")

	return cmd
}

func (sc *TraceSynthCommand) run(cmd *cobra.Command) error {
	trace := tracelog.Synthesize(tracelog.SynthSpec{
		Session: sc.session,
		Seed:    sc.seed,
		Regions: sc.regions,
		Churn:   sc.churn,
	})

	if err := tracelog.WriteTrace(sc.output, trace); err != nil {
		return err
	}

	progressf(isQuiet(cmd), cmd.ErrOrStderr(), "synthesized %d events to %s", len(trace.Events), sc.output)

	return nil
}
