package main

import (
	"log"
	"net/http"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	mirror := newPresenceMirror(cfg.RedisAddr, cfg.HeartbeatTimeout, logger)
	if mirror != nil {
		logger.Infof("mirroring presence to redis at %s", cfg.RedisAddr)
	}

	hub := newHub(cfg, logger, mirror)

	stop := make(chan struct{})
	defer close(stop)
	go hub.reapLoop(stop)

	mux := http.NewServeMux()
	mux.HandleFunc("/", hub.handleConn)

	color.Green("coedit server listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		log.Fatal("Error starting server, exiting.", err)
	}
}
