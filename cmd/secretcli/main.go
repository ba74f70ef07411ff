package main

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/secret-compute-enclave/clients"
	"github.com/ruteri/secret-compute-enclave/common"
	"github.com/ruteri/secret-compute-enclave/contractkey"
	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/kms"
	"github.com/ruteri/secret-compute-enclave/secretmsg"
	"github.com/ruteri/secret-compute-enclave/storage"
	"github.com/urfave/cli/v2"
)

var flagNodeURL = &cli.StringFlag{
	Name:  "node-url",
	Value: "http://127.0.0.1:8080",
	Usage: "enclave node API",
}

var flagUserKey = &cli.StringFlag{
	Name:  "user-key-file",
	Value: "user.key",
	Usage: "hex encoded x25519 secret of the user",
}

var flagSealingURI = &cli.StringSliceFlag{
	Name:     "sealing-uri",
	Usage:    "where the node keeps its sealed seeds, may be repeated",
	Required: true,
}

var flagCodeHash = &cli.StringFlag{
	Name:  "code-hash",
	Usage: "hex sha256 of the contract code",
}

var flagCodeFile = &cli.StringFlag{
	Name:  "code-file",
	Usage: "contract wasm, hashed when --code-hash is not given",
}

func loadUserKey(path string) (cryptoutils.KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cryptoutils.KeyPair{}, err
	}
	secret, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(secret) != cryptoutils.SymmetricKeySize {
		return cryptoutils.KeyPair{}, fmt.Errorf("%s is not a hex encoded %d byte secret", path, cryptoutils.SymmetricKeySize)
	}
	return cryptoutils.NewKeyPairFromSecret(cryptoutils.NewAESKeyFromSlice(secret)), nil
}

func codeHashFrom(cCtx *cli.Context) (contractkey.CodeHash, error) {
	var hash contractkey.CodeHash
	if h := cCtx.String(flagCodeHash.Name); h != "" {
		b, err := hex.DecodeString(h)
		if err != nil || len(b) != len(hash) {
			return hash, errors.New("code hash must be a hex encoded sha256")
		}
		copy(hash[:], b)
		return hash, nil
	}
	if path := cCtx.String(flagCodeFile.Name); path != "" {
		code, err := os.ReadFile(path)
		if err != nil {
			return hash, err
		}
		return sha256.Sum256(code), nil
	}
	return hash, errors.New("either --code-hash or --code-file is required")
}

func session(cCtx *cli.Context) (*clients.UserSession, error) {
	user, err := loadUserKey(cCtx.String(flagUserKey.Name))
	if err != nil {
		return nil, err
	}
	nodeKey, err := clients.NewNodeClient(cCtx.String(flagNodeURL.Name)).IOExchangePubkey(cCtx.Context)
	if err != nil {
		return nil, err
	}
	return clients.NewUserSession(nodeKey, user), nil
}

func openKeys(cCtx *cli.Context) (*kms.KeyHierarchy, error) {
	logger := common.DiscardLogger()
	sealer, err := storage.NewSealerFactory(logger).CreateMultiSealer(cCtx.StringSlice(flagSealingURI.Name))
	if err != nil {
		return nil, err
	}
	return kms.NewKeyHierarchy(sealer, logger), nil
}

func main() {
	app := &cli.App{
		Name:  "secretcli",
		Usage: "Operator and wallet tooling for the enclave",
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "Generate a user x25519 key",
				Flags: []cli.Flag{flagUserKey},
				Action: func(cCtx *cli.Context) error {
					kp, err := cryptoutils.GenerateKeyPair()
					if err != nil {
						return err
					}
					secret := kp.SecretKey()
					if err := os.WriteFile(cCtx.String(flagUserKey.Name), []byte(hex.EncodeToString(secret.Bytes())), 0600); err != nil {
						return err
					}
					pub := kp.PublicKey()
					fmt.Println(hex.EncodeToString(pub[:]))
					return nil
				},
			},
			{
				Name:  "io-pubkey",
				Usage: "Print the node's current io exchange public key",
				Flags: []cli.Flag{flagNodeURL},
				Action: func(cCtx *cli.Context) error {
					key, err := clients.NewNodeClient(cCtx.String(flagNodeURL.Name)).IOExchangePubkey(cCtx.Context)
					if err != nil {
						return err
					}
					fmt.Println(base64.StdEncoding.EncodeToString(key[:]))
					return nil
				},
			},
			{
				Name:      "encrypt",
				Usage:     "Seal a contract message for the node, printing the base64 wire message",
				ArgsUsage: "<json msg>",
				Flags:     []cli.Flag{flagNodeURL, flagUserKey, flagCodeHash, flagCodeFile},
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return errors.New("expected the message as the only argument")
					}
					msg := []byte(cCtx.Args().First())
					if !json.Valid(msg) {
						return errors.New("message is not valid JSON")
					}

					codeHash, err := codeHashFrom(cCtx)
					if err != nil {
						return err
					}
					s, err := session(cCtx)
					if err != nil {
						return err
					}
					sealed, err := s.Seal(codeHash, msg)
					if err != nil {
						return err
					}
					fmt.Println(base64.StdEncoding.EncodeToString(sealed.Bytes()))
					return nil
				},
			},
			{
				Name:      "decrypt",
				Usage:     "Open an encrypted output with the message it answers",
				ArgsUsage: "<base64 sent message> <base64 output value>",
				Flags:     []cli.Flag{flagNodeURL, flagUserKey},
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 2 {
						return errors.New("expected the sent message and the output value")
					}
					raw, err := base64.StdEncoding.DecodeString(cCtx.Args().Get(0))
					if err != nil {
						return fmt.Errorf("invalid sent message: %w", err)
					}
					sent, err := secretmsg.FromSlice(raw)
					if err != nil {
						return err
					}

					s, err := session(cCtx)
					if err != nil {
						return err
					}
					pt, err := s.Open(sent, cCtx.Args().Get(1))
					if err != nil {
						return err
					}
					fmt.Println(string(pt))
					return nil
				},
			},
			{
				Name:      "contract-key",
				Usage:     "Decode a base64 contract key",
				ArgsUsage: "<base64 key>",
				Action: func(cCtx *cli.Context) error {
					key, err := contractkey.Extract(cCtx.Args().First())
					if err != nil {
						return err
					}
					sender, contract := key.SenderID(), key.ContractID()
					fmt.Printf("sender_id:   %s\ncontract_id: %s\n", hex.EncodeToString(sender[:]), hex.EncodeToString(contract[:]))
					return nil
				},
			},
			{
				Name:  "seed",
				Usage: "Back up and restore sealed consensus seeds",
				Subcommands: []*cli.Command{
					{
						Name:  "split",
						Usage: "Split the sealed seeds into Shamir shares, one hex file per share",
						Flags: []cli.Flag{
							flagSealingURI,
							&cli.IntFlag{Name: "threshold", Value: 2},
							&cli.IntFlag{Name: "total-shares", Value: 3},
							&cli.StringFlag{Name: "out-dir", Value: "."},
						},
						Action: func(cCtx *cli.Context) error {
							keys, err := openKeys(cCtx)
							if err != nil {
								return err
							}
							if err := keys.LoadSealedSeeds(cCtx.Context); err != nil {
								return err
							}
							seeds, err := keys.Seeds()
							if err != nil {
								return err
							}

							shares, err := kms.SplitSeeds(seeds, cCtx.Int("total-shares"), cCtx.Int("threshold"))
							if err != nil {
								return err
							}
							for i, share := range shares {
								path := filepath.Join(cCtx.String("out-dir"), fmt.Sprintf("seed-share-%d.hex", i))
								if err := os.WriteFile(path, []byte(hex.EncodeToString(share)), 0600); err != nil {
									return err
								}
								fmt.Println(path)
							}
							return nil
						},
					},
					{
						Name:      "combine",
						Usage:     "Rebuild seeds from share files and seal them",
						ArgsUsage: "<share file>...",
						Flags:     []cli.Flag{flagSealingURI},
						Action: func(cCtx *cli.Context) error {
							shares := make([][]byte, 0, cCtx.NArg())
							for _, path := range cCtx.Args().Slice() {
								raw, err := os.ReadFile(path)
								if err != nil {
									return err
								}
								share, err := hex.DecodeString(strings.TrimSpace(string(raw)))
								if err != nil {
									return fmt.Errorf("%s: %w", path, err)
								}
								shares = append(shares, share)
							}

							seeds, err := kms.CombineSeeds(shares)
							if err != nil {
								return err
							}
							keys, err := openKeys(cCtx)
							if err != nil {
								return err
							}
							return keys.SetConsensusSeed(cCtx.Context, seeds)
						},
					},
					{
						Name:  "show",
						Usage: "Print the public keys derived from the sealed seeds",
						Flags: []cli.Flag{flagSealingURI},
						Action: func(cCtx *cli.Context) error {
							keys, err := openKeys(cCtx)
							if err != nil {
								return err
							}
							if err := keys.LoadSealedSeeds(cCtx.Context); err != nil {
								return err
							}
							reg, err := keys.NodeRegistration()
							if err != nil {
								return err
							}
							fmt.Printf("io_exchange_pubkey:   %s\nseed_exchange_pubkey: %s\n",
								base64.StdEncoding.EncodeToString(reg.IOExchangePubkey.Current[:]),
								base64.StdEncoding.EncodeToString(reg.SeedExchangePubkey.Current[:]))
							return nil
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
