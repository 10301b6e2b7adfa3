package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/mastercactapus/polargraph/feedback"
	"github.com/mastercactapus/polargraph/machine"
	"github.com/mastercactapus/polargraph/machine/polargraph"
	"github.com/mastercactapus/polargraph/sim"
	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	port := flag.String("port", "", "Port to connect to at startup (or name if using SPJS).")
	driver := flag.String("driver", "tarm", "Serial driver to use: tarm, bugst or spjs.")
	spjsURL := flag.String("spjs", "ws://localhost:8989/ws", "Websocket URL of the SPJS server, for the spjs driver.")
	addr := flag.String("addr", ":9091", "Address to bind the control server to.")
	dir := flag.String("dir", "./data", "Data directory for programs and simulator files.")
	speed := flag.Int("speed", machine.DefaultSpeed, "Initial plotting speed, 1-99.")
	pointsExe := flag.String("points-exe", "GeneratePoints", "Point generator executable used for simulation.")
	list := flag.Bool("list", false, "List serial ports and exit.")
	simulate := flag.Bool("simulate", false, "Use a simulated plotter instead of a serial port.")
	level := flag.String("log-level", "info", "Log level (debug, info, warn, error).")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        colorable.NewColorableStdout(),
		TimeFormat: time.Kitchen,
	}).With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(*level)
	if err != nil {
		log.Fatal().Err(err).Msg("parse log level")
	}
	zerolog.SetGlobalLevel(lvl)

	if *list {
		ports, err := polargraph.DetailedPorts()
		if err != nil {
			log.Fatal().Err(err).Msg("list ports")
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found!")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg := polargraph.DefaultConfig()
	open, lister, err := polargraph.Driver(*driver, *spjsURL)
	if err != nil {
		log.Fatal().Err(err).Msg("select driver")
	}
	if *simulate {
		cfg.BootDelay = 0
		open = polargraph.SimOpener(polargraph.NewSimPort(50 * time.Millisecond))
		lister = func() ([]string, error) { return []string{"sim"}, nil }
		if *port == "" {
			*port = "sim"
		}
	}

	fb := feedback.NewQueue()
	link := polargraph.NewLink(cfg, open, lister, fb)
	m := machine.NewMachine(polargraph.NewConn(link, cfg, fb), fb)
	err = m.State().SetSpeed(*speed)
	if err != nil {
		log.Fatal().Err(err).Int("speed", *speed).Msg("invalid speed")
	}

	ctx := context.Background()
	if *port != "" {
		err = link.Connect(ctx, *port)
		if err != nil {
			log.Error().Err(err).Str("port", *port).Msg("initial connect")
		}
	}

	a := newAPI(m, link, fb, sim.Workspace{Dir: *dir, Exe: *pointsExe}, *dir)
	go a.feed(ctx)

	log.Info().Str("addr", *addr).Msg("listening")
	err = http.ListenAndServe(*addr, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Str("remote", req.RemoteAddr).Msg("request")
		a.ServeHTTP(w, req)
	}))
	if err != nil {
		log.Fatal().Err(err).Msg("serve")
	}
}
