package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/config"
)

var (
	flagMode    = flag.String("mode", "", "encode | decode")
	envFileFlag = flag.String("env", "", "Path to .env file, 'stdin' or empty")
	idFlag      = flag.String("id", "", "Transfer ID (encode) or receipt ID (decode)")
)

// converts between transfer row IDs and the receipt IDs handed out by the API
func main() {
	flag.Parse()

	env, err := common.NewEnvSource(*envFileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
	}
	cfg := config.NewEnvConfig(env.Get)

	hasher := common.NewIDHasher(cfg.Get(common.IDSaltKey))

	switch *flagMode {
	case "encode":
		id, err := strconv.ParseInt(*idFlag, 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing transfer ID: %v\n", err)
			os.Exit(1)
		}

		fmt.Print(hasher.Encrypt(id))
	case "decode":
		id, err := hasher.Decrypt(*idFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding receipt ID: %v\n", err)
			os.Exit(1)
		}

		fmt.Print(id)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode: '%s'\n", *flagMode)
		os.Exit(1)
	}
}
