package main

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/urfave/cli/v2"
)

var genseed = cli.Command{
	Name:   "genseed",
	Usage:  "generate a fresh hex encoded wallet seed",
	Action: genSeedAction,
}

func genSeedAction(ctx *cli.Context) error {
	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	if err != nil {
		return err
	}

	fmt.Println(hex.EncodeToString(seed))
	return nil
}
