package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/bilakit/bilayer/actuate"
	"github.com/bilakit/bilayer/protein"
	"github.com/bilakit/bilayer/stepper"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "bilayerd.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconfig() Config {
	c := Config{}
	if err := k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{DecoderConfig: decoderConfig(&c)}); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `bilayerd watches a lipid bilayer through its current trace, counts the open
pores or channels once per second, estimates the stimulus they report, and
reforms the bilayer through the stepper controller when it ruptures or gets
crowded.

Usage:
	bilayerd <command>

Commands:
	run
	help
	mkconf
	conf
	presets
	motor <reform|rotate|step|stop>
	version`
	fmt.Println(str)
}

func help() {
	str := `bilayerd is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Without a configuration file, the defaults printed by "bilayerd conf" apply.
"bilayerd mkconf" writes them to bilayerd.yml as a starting point.

Source.Kind selects where samples come from:
- atf     an Axon Text File export, Source.Addr is the path
- csv     a two column CSV, time then current; Source.Millis if time is in ms,
          Source.Header to skip a header line
- serial  a digitizer printing one sample per line, Source.Addr is the device
- tcp     the same over a host:port bridge

Preset is one of nanopore, bk or or8; "bilayerd presets" lists their constants.
Extraction is none, dwell or jump.  Durations are written like 1s or 250ms.

Actuator.Addr may be "auto" to search USB serial ports for an Arduino Mega 2560.
With Actuator.Auto false, reform decisions are logged but never sent.

Monitor.Addr, when set, serves a read-only view and /metrics for Prometheus.

Processed, event and raw CSV files are written to LogDir.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func presets() {
	for _, p := range protein.All() {
		fmt.Printf("%-9s %-4s %s\n", p.Kind, p.Tag, p.Name)
		fmt.Printf("          current per channel %g pA\n", p.CurrentPerChannel)
		if p.Center.Valid() {
			fmt.Printf("          sigmoid a=%g x0=%g\n", p.Center.A, p.Center.X0)
		}
		fmt.Printf("          columns %s\n", strings.Join(p.ProcessedHeader(), ","))
	}
}

func motor(args []string) {
	if len(args) != 1 {
		log.Fatal("usage: bilayerd motor <reform|rotate|step|stop>")
	}
	cmd, err := actuate.ParseCommand(strings.ToLower(args[0]))
	if err != nil {
		log.Fatal(err)
	}
	c := loadconfig()
	ctl, err := stepper.Open(c.Actuator.Addr, c.Actuator.Baud, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer ctl.Close()
	if err := ctl.Send(cmd); err != nil {
		log.Fatal(err)
	}
	log.Println("sent", cmd)
}

func pversion() {
	fmt.Printf("bilayerd version %v\n", Version)
}

func run() {
	c := loadconfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runSession(ctx, c); err != nil {
		log.Fatal(err)
	}
	log.Println("acquisition finished")
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "presets":
		presets()
		return
	case "motor":
		motor(args[2:])
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
