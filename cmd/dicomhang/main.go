package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mrsinham/dicomhang/cmd/dicomhang/browser"
	"github.com/mrsinham/dicomhang/internal/engine"
	"github.com/mrsinham/dicomhang/internal/metadata"
	"github.com/mrsinham/dicomhang/internal/protocol"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	dicomDir := flag.String("dicom", "", "Directory of DICOM files to hang (required)")
	protocolDir := flag.String("protocols", "", "Directory of hanging protocol YAML files")
	interactive := flag.Bool("interactive", false, "Launch interactive stage browser")
	flag.BoolVar(interactive, "i", false, "Launch interactive stage browser (shortcut)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version")
	help := flag.Bool("help", false, "Show help message")

	flag.Parse()

	if *showVersion {
		fmt.Printf("dicomhang %s\n", version)
		os.Exit(0)
	}
	if *help {
		printHelp()
		os.Exit(0)
	}
	if *dicomDir == "" {
		fmt.Fprintln(os.Stderr, "Error: --dicom is required")
		printUsage()
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	library := protocol.NewLibrary()
	if *protocolDir != "" {
		protocols, err := protocol.LoadDir(*protocolDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading protocols: %v\n", err)
			os.Exit(1)
		}
		for _, p := range protocols {
			if err := library.Register(p); err != nil {
				fmt.Fprintf(os.Stderr, "Error registering protocol %q: %v\n", p.Name, err)
				os.Exit(1)
			}
		}
		fmt.Printf("Loaded %d protocols from %s\n", len(protocols), *protocolDir)
	}

	builder, fileCount, err := loadDICOMDir(*dicomDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading DICOM files: %v\n", err)
		os.Exit(1)
	}
	studies := builder.Studies()
	if len(studies) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no DICOM studies found")
		os.Exit(1)
	}
	fmt.Printf("Loaded %d files: %d studies\n\n", fileCount, len(studies))

	// The most recent study is the one being hung; the rest are its
	// priors, fetched on demand when a protocol references them.
	summaries := builder.Summaries()
	primary := studies[0]
	priors := map[string][]metadata.StudySummary{
		primary.StudyInstanceUID(): summaries[1:],
	}
	source := newStudySource(studies)

	if *interactive {
		if err := browser.Run(library, []*metadata.Study{primary}, priors, source, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	console := newConsoleLayout(os.Stdout)
	eng, err := engine.New(console, library, []*metadata.Study{primary}, priors, source, &engine.Options{Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	selected := eng.CurrentProtocol()
	fmt.Printf("Protocol: %s (%d stages)\n", selected.Name, eng.StageCount())
	for {
		stage, ok := eng.CurrentStage()
		if !ok {
			break
		}
		fmt.Printf("\nStage %d/%d: %s\n", eng.CurrentStageIndex()+1, eng.StageCount(), stage.Name)
		// Give async prior resolutions a moment to land before rendering
		// the next stage.
		time.Sleep(200 * time.Millisecond)
		console.Print()
		if !eng.NextStage() {
			break
		}
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "\nUsage:")
	fmt.Fprintln(os.Stderr, "  dicomhang --dicom <DIR> [options]")
	fmt.Fprintln(os.Stderr, "\nOptions:")
	flag.PrintDefaults()
}

func printHelp() {
	fmt.Println("dicomhang")
	fmt.Println("=========")
	fmt.Println()
	fmt.Println("Select a hanging protocol for a DICOM study and assign images to")
	fmt.Println("viewport slots, stage by stage.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  dicomhang --dicom <DIR> [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --dicom <DIR>       Directory of DICOM files (required)")
	fmt.Println("  --protocols <DIR>   Directory of hanging protocol YAML files")
	fmt.Println("  --interactive, -i   Launch the interactive stage browser")
	fmt.Println("  --verbose           Enable debug logging")
	fmt.Println("  --version           Show version")
	fmt.Println("  --help              Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Hang a study with the built-in default protocol")
	fmt.Println("  dicomhang --dicom ./study")
	fmt.Println()
	fmt.Println("  # Hang with a custom protocol library, interactively")
	fmt.Println("  dicomhang --dicom ./study --protocols ./protocols -i")
	fmt.Println()
	fmt.Println("Output:")
	fmt.Println("  Without --interactive, every stage of the selected protocol is")
	fmt.Println("  rendered as a text grid, one cell per viewport slot. Slots that")
	fmt.Println("  no image matched render as empty cells.")
	fmt.Println()
	fmt.Println("  The most recent study in the directory is hung; older studies")
	fmt.Println("  serve as priors for protocols that reference them.")
}
