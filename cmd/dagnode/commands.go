package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dagchain/node/internal/config"
	"github.com/dagchain/node/internal/crypto"
)

func runCmd() *cobra.Command {
	var (
		dataDir     string
		listenAddr  string
		peers       []string
		network     string
		keyHex      string
		consensusMs int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node: ingest peers, vote, finalise, answer queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := loadOrGenerateKey(keyHex)
			if err != nil {
				return err
			}
			cfg := Config{
				DataDir:       dataDir,
				ListenAddr:    listenAddr,
				BootstrapPeers: peers,
				Network:       network,
				Key:           key,
				ConsensusTick: time.Duration(consensusMs) * time.Millisecond,
			}
			node, err := New(cfg)
			if err != nil {
				return err
			}
			return node.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&dataDir, "datadir", "", "durable store directory (empty = in-memory)")
	cmd.Flags().StringVar(&listenAddr, "listen", ":30303", "TCP address to accept peer connections on")
	cmd.Flags().StringSliceVar(&peers, "peer", nil, "peer address to dial at startup (repeatable)")
	cmd.Flags().StringVar(&network, "network", "local", "parameter/genesis preset: local, testnet, mainnet")
	cmd.Flags().StringVar(&keyHex, "key", "", "hex-encoded secp256k1 private key (empty = generate ephemeral)")
	cmd.Flags().IntVar(&consensusMs, "consensus-tick-ms", 50, "PBFT driver poll interval in milliseconds")
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a validator keypair and print its address",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Printf("address:     %s\n", key.Address())
			fmt.Printf("private key: %s\n", hex.EncodeToString(key.Bytes()))
			return nil
		},
	}
}

func genesisCmd() *cobra.Command {
	var network string
	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Print the persisted genesis record for a network preset",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := genesisFor(network)
			if err != nil {
				return err
			}
			fmt.Printf("chain id:        %d\n", g.ChainID)
			fmt.Printf("dag genesis:     %s\n", config.GenesisDagBlock().Hash())
			fmt.Printf("committee size:  %d\n", g.Parameters.CommitteeSize)
			fmt.Printf("quorum:          %d\n", g.Parameters.Quorum())
			fmt.Println("genesis accounts:")
			for addr, bal := range g.GenesisAccounts {
				fmt.Printf("  %s: %s\n", addr, bal.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&network, "network", "local", "parameter/genesis preset: local, testnet, mainnet")
	return cmd
}

func loadOrGenerateKey(keyHex string) (*crypto.Key, error) {
	if keyHex == "" {
		return crypto.GenerateKey()
	}
	b, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("dagnode: invalid --key: %w", err)
	}
	return crypto.FromBytes(b)
}

func genesisFor(network string) (config.Genesis, error) {
	switch network {
	case "local":
		return config.LocalGenesis(), nil
	case "testnet":
		g := config.LocalGenesis()
		g.Parameters = config.TestnetParameters()
		return g, nil
	case "mainnet":
		g := config.LocalGenesis()
		g.Parameters = config.MainnetParameters()
		return g, nil
	default:
		return config.Genesis{}, fmt.Errorf("dagnode: unknown network %q", network)
	}
}
