package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
	dbbadger "github.com/p2p-escrow/trade-daemon/internal/infrastructure/storage/db/badger"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const dbLocation = "db"

var (
	defaultDatadir = btcutil.AppDataDir("trade-daemon", false)

	datadirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "data directory of the trade daemon",
		Value:   defaultDatadir,
		EnvVars: []string{"TRADEPROTO_DATADIR"},
	}
)

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()

	app.Version = "0.1.0"
	app.Name = "tradeproto"
	app.Usage = "Command line interface for trade daemon operators"
	app.Flags = []cli.Flag{datadirFlag}
	app.Commands = append(
		app.Commands,
		&trades,
		&offers,
		&genseed,
	)
	return app
}

// getRepoManager opens the daemon's db in read-only mode. The daemon must
// not be running.
func getRepoManager(ctx *cli.Context) (ports.RepoManager, func(), error) {
	dbDir := filepath.Join(ctx.String(datadirFlag.Name), dbLocation)
	if _, err := os.Stat(dbDir); err != nil {
		return nil, nil, fmt.Errorf("db not found in %s", dbDir)
	}

	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	repoManager, err := dbbadger.NewReadOnlyRepoManager(dbDir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf(
			"unable to open db, make sure the daemon is not running: %w", err,
		)
	}
	return repoManager, repoManager.Close, nil
}

func printJSON(resp interface{}) {
	buf, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		fmt.Println("unable to decode response: ", err)
		return
	}
	fmt.Println(string(buf))
}

type invalidUsageError struct {
	ctx     *cli.Context
	command string
}

func (e *invalidUsageError) Error() string {
	return fmt.Sprintf("invalid usage of command %s", e.command)
}

func fatal(err error) {
	var e *invalidUsageError
	if errors.As(err, &e) {
		_ = cli.ShowCommandHelp(e.ctx, e.command)
	} else {
		_, _ = fmt.Fprintf(os.Stderr, "[tradeproto] %v\n", err)
	}
	os.Exit(1)
}
