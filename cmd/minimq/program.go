package main

import (
	"context"
	"crypto/tls"
	"os"
	"path/filepath"
	"time"

	"github.com/RoanBrand/minimq/internal/client"
	"github.com/RoanBrand/minimq/internal/config"
	"github.com/RoanBrand/minimq/internal/device"
	"github.com/RoanBrand/minimq/internal/metrics"
	"github.com/RoanBrand/minimq/internal/node"
	"github.com/RoanBrand/minimq/internal/store"
	"github.com/RoanBrand/minimq/internal/stream"
	"github.com/RoanBrand/minimq/internal/transport"
	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type program struct {
	configFlag string
	execDir    string

	cancel context.CancelFunc
	done   chan struct{}
}

func (p *program) loadConfig() (*config.Config, error) {
	var c config.Config

	path := p.configFlag
	if path == "" {
		for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
			if toTry := filepath.Join(p.execDir, name); fileExists(toTry) {
				path = toTry
				break
			}
		}
	}
	if path == "" {
		log.Infoln("No config file specified or found. Using defaults.")
		return &c, c.Validate()
	}

	if err := c.LoadFromFile(path); err != nil {
		return nil, err
	}
	log.Infoln("Using config file:", path)
	return &c, nil
}

func setupLogging(c *config.Config) error {
	if c.Log.Level != "" {
		lvl, err := log.ParseLevel(c.Log.Level)
		if err != nil {
			return err
		}
		log.SetLevel(lvl)
	}
	if c.Log.File != "" {
		f, err := os.OpenFile(c.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}
	return nil
}

func (p *program) Start(s service.Service) error {
	c, err := p.loadConfig()
	if err != nil {
		return err
	}
	if err = setupLogging(c); err != nil {
		return err
	}
	if c.Log.File == "" && !service.Interactive() {
		f, err := os.OpenFile(filepath.Join(p.execDir, "minimq.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}

	var st store.Store
	if c.Device.StateDir != "" {
		if st, err = store.NewDiskStore(c.Device.StateDir); err != nil {
			return err
		}
	} else {
		st = store.NewMemStore()
	}

	dev, err := device.New(device.Options{
		Mode:      device.Mode(c.Device.Mode),
		Outputs:   c.Device.Outputs,
		TopicBase: c.Device.TopicBase,
		IdxBase:   c.Device.IdxBase,
		Store:     st,
	})
	if err != nil {
		st.Close()
		return err
	}

	m := metrics.New()
	m.Registry().MustRegister(metrics.NewOutputsCollector(dev.Outputs))

	to := transport.Options{
		Network: c.Broker.Network,
		Address: c.Broker.Address,
		Path:    c.Broker.Path,
	}
	if c.Broker.InsecureSkipVerify {
		to.TLS = &tls.Config{InsecureSkipVerify: true}
	}

	n, err := node.New(node.Options{
		Transport: to,
		Connect: client.ConnectOptions{
			ClientID:     c.MQTT.ClientID,
			CleanSession: true,
			KeepAlive:    c.MQTT.KeepAlive,
			UserName:     c.MQTT.UserName,
			Password:     c.MQTT.Password,
		},
		SendBufferSize:  c.MQTT.SendBufferSize,
		RecvBufferSize:  c.MQTT.RecvBufferSize,
		ResponseTimeout: c.MQTT.ResponseTimeout,
		Strategy:        stream.Strategy(c.MQTT.Strategy),
		MaxUnfiltered:   c.MQTT.MaxUnfiltered,
		ReconnectDelay:  c.MQTT.ReconnectDelay.Duration,
		Device:          dev,
		Metrics:         m,
	})
	if err != nil {
		st.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		defer st.Close()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return n.Run(gctx)
		})
		if c.HTTP.Address != "" {
			g.Go(func() error {
				return metrics.Serve(gctx, c.HTTP.Address, metrics.Router(m, n.Status))
			})
		}
		if err := g.Wait(); err != nil {
			log.Fatal(err)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		log.Warn("Timed out waiting for shutdown")
	}
	return nil
}
