package main

import (
	"encoding/hex"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/shardguard/recovery-backend/api/recoveryhandler"
	"github.com/shardguard/recovery-backend/cmd/flags"
	"github.com/shardguard/recovery-backend/cryptoutils"
	"github.com/shardguard/recovery-backend/engine"
	"github.com/shardguard/recovery-backend/httpserver"
	"github.com/shardguard/recovery-backend/interfaces"
	"github.com/shardguard/recovery-backend/notifier"
	"github.com/shardguard/recovery-backend/storage"
)

var serverFlags []cli.Flag = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.StorageURIFlag,
	&cli.StringFlag{
		Name:  "oracle-address",
		Usage: "hex address decryption proofs must be signed by",
	},
	&cli.BoolFlag{
		Name:  "dev-oracle",
		Value: false,
		Usage: "run an in-process decryption oracle (development only)",
	},
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "recovery-server",
		Usage: "Serve the guardian shard recovery API",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String(flags.ListenAddrFlag.Name)
			storageURI := cCtx.String(flags.StorageURIFlag.Name)
			oracleAddrHex := cCtx.String("oracle-address")
			devOracle := cCtx.Bool("dev-oracle")

			logger := flags.SetupLogger(cCtx)

			storeFactory := storage.NewStoreFactory(logger)
			store, err := storeFactory.StoreFor(storageURI)
			if err != nil {
				logger.Error("Failed to create store", "err", err, "uri", storageURI)
				return err
			}
			defer store.Close()
			logger.Info("Store ready", "uri", storageURI)

			var verifier interfaces.ProofVerifier
			var grantor interfaces.DecryptionGrantor

			switch {
			case devOracle:
				oracle, err := cryptoutils.NewOracle()
				if err != nil {
					logger.Error("Failed to create dev oracle", "err", err)
					return err
				}
				verifier = oracle.Verifier()
				grantor = oracle
				logger.Info("Dev oracle running in-process",
					"oracleAddress", oracle.Address().String(),
					"oraclePublicKey", hex.EncodeToString(oracle.PublicKey()[:]))
			case oracleAddrHex != "":
				oracleAddr, err := interfaces.NewGuardianAddressFromHex(oracleAddrHex)
				if err != nil {
					logger.Error("Invalid oracle address", "err", err)
					return err
				}
				verifier = cryptoutils.NewVerifier(oracleAddr)
				logger.Info("Trusting external oracle", "oracleAddress", oracleAddr.String())
			default:
				logger.Error("Either oracle-address or dev-oracle is required")
				return cli.Exit("either --oracle-address or --dev-oracle is required", 1)
			}

			events := notifier.NewMulti(
				notifier.NewLog(logger),
				notifier.NewMetrics(prometheus.DefaultRegisterer),
			)

			eng := engine.New(store, store, verifier, grantor, events, logger)
			handler := recoveryhandler.NewHandler(eng, logger)

			cfg := flags.ConfigureServer(cCtx, logger, listenAddr)
			server, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
