package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ruteri/secret-compute-enclave/clients"
	"github.com/ruteri/secret-compute-enclave/httpserver"
	"github.com/ruteri/secret-compute-enclave/kms"
	"github.com/urfave/cli/v2"
)

var flagNodeAdminURL *cli.StringFlag = &cli.StringFlag{
	Name:  "node-admin-url",
	Value: "http://127.0.0.1:8080/admin",
	Usage: "Admin API of the enclave node",
}
var flagAdminPrivkey *cli.StringFlag = &cli.StringFlag{
	Name:  "admin-privkey-file",
	Value: "admin-private.pem",
	Usage: "Path to admin private key",
}
var flagAdminPubkey *cli.StringFlag = &cli.StringFlag{
	Name:  "admin-pubkey-file",
	Value: "admin-public.pem",
	Usage: "Path to admin public key",
}
var flagAdminKeys *cli.StringFlag = &cli.StringFlag{
	Name:  "admin-keys-file",
	Value: "admin-keys.json",
	Usage: "Path to the admin keys file the node is started with",
}
var flagShareFile *cli.StringFlag = &cli.StringFlag{
	Name:  "share-file",
	Value: "seed-share.json",
	Usage: "Path to file to use for the encrypted seed share",
}

var flagThreshold *cli.IntFlag = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
}

var flagTotalShares *cli.IntFlag = &cli.IntFlag{
	Name:  "total-shares",
	Value: 2,
}

var flagWait *cli.DurationFlag = &cli.DurationFlag{
	Name:  "wait",
	Value: 0,
	Usage: "after submitting, poll until the node is seeded (0 disables)",
}

type adminIdentity struct {
	id            string
	privateKeyPEM []byte
	privateKey    *ecdsa.PrivateKey
}

func loadIdentity(cCtx *cli.Context) (adminIdentity, error) {
	publicKeyPEM, err := os.ReadFile(cCtx.String(flagAdminPubkey.Name))
	if err != nil {
		return adminIdentity{}, err
	}

	privateKeyPEM, err := os.ReadFile(cCtx.String(flagAdminPrivkey.Name))
	if err != nil {
		return adminIdentity{}, err
	}

	privateKey, err := httpserver.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return adminIdentity{}, err
	}

	return adminIdentity{
		id:            kms.AdminFingerprint(publicKeyPEM),
		privateKeyPEM: privateKeyPEM,
		privateKey:    privateKey,
	}, nil
}

func adminClient(cCtx *cli.Context) (*clients.AdminClient, adminIdentity, error) {
	identity, err := loadIdentity(cCtx)
	if err != nil {
		return nil, adminIdentity{}, err
	}
	return clients.NewAdminClient(cCtx.String(flagNodeAdminURL.Name), identity.id, identity.privateKey), identity, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	identityFlags := []cli.Flag{flagNodeAdminURL, flagAdminPrivkey, flagAdminPubkey}

	app := &cli.App{
		Name:           "admin",
		Usage:          "Bootstrap the consensus seeds of an enclave node",
		DefaultCommand: "status",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show the seed bootstrap state",
				Flags: identityFlags,
				Action: func(cCtx *cli.Context) error {
					c, _, err := adminClient(cCtx)
					if err != nil {
						return err
					}
					status, err := c.GetStatus(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:  "generate-admin",
				Usage: "Generate an admin key pair",
				Flags: []cli.Flag{
					flagAdminPrivkey,
					flagAdminPubkey,
				},
				Action: func(cCtx *cli.Context) error {
					privateKeyPEM, publicKeyPEM, err := httpserver.GenerateAdminKeyPair()
					if err != nil {
						return err
					}

					if err := os.WriteFile(cCtx.String(flagAdminPrivkey.Name), []byte(privateKeyPEM), 0600); err != nil {
						return err
					}
					if err := os.WriteFile(cCtx.String(flagAdminPubkey.Name), []byte(publicKeyPEM), 0600); err != nil {
						return err
					}

					fmt.Println(kms.AdminFingerprint([]byte(publicKeyPEM)))
					return nil
				},
			},
			{
				Name:  "generate-config",
				Usage: "Write the admin keys file for the node from admin public keys",
				Flags: []cli.Flag{
					flagAdminKeys,
					&cli.StringSliceFlag{
						Name: "admin-pubkey-files",
					},
				},
				Action: func(cCtx *cli.Context) error {
					type adminEntry struct {
						ID     string `json:"id"`
						PubKey string `json:"pubkey"`
					}
					var config struct {
						Admins []adminEntry `json:"admins"`
					}

					for _, pubkey := range cCtx.StringSlice("admin-pubkey-files") {
						publicKeyPEM, err := os.ReadFile(pubkey)
						if err != nil {
							return err
						}
						config.Admins = append(config.Admins, adminEntry{
							ID:     kms.AdminFingerprint(publicKeyPEM),
							PubKey: string(publicKeyPEM),
						})
					}

					configBytes, err := json.Marshal(config)
					if err != nil {
						return err
					}
					return os.WriteFile(cCtx.String(flagAdminKeys.Name), configBytes, 0600)
				},
			},
			{
				Name:  "init-generate",
				Usage: "Generate consensus seeds on the node and split them into shares",
				Flags: append(identityFlags, flagThreshold, flagTotalShares),
				Action: func(cCtx *cli.Context) error {
					c, _, err := adminClient(cCtx)
					if err != nil {
						return err
					}
					assignments, err := c.InitGenerate(cCtx.Context, cCtx.Int(flagThreshold.Name), cCtx.Int(flagTotalShares.Name))
					if err != nil {
						return err
					}
					return printJSON(assignments)
				},
			},
			{
				Name:  "init-recovery",
				Usage: "Put the node in recovery mode",
				Flags: append(identityFlags, flagThreshold),
				Action: func(cCtx *cli.Context) error {
					c, _, err := adminClient(cCtx)
					if err != nil {
						return err
					}
					return c.InitRecover(cCtx.Context, cCtx.Int(flagThreshold.Name))
				},
			},
			{
				Name:  "fetch-share",
				Usage: "Retrieve this admin's encrypted share and save it to a file",
				Flags: append(identityFlags, flagShareFile),
				Action: func(cCtx *cli.Context) error {
					c, _, err := adminClient(cCtx)
					if err != nil {
						return err
					}
					share, err := c.FetchShare(cCtx.Context)
					if err != nil {
						return err
					}

					shareJSON, err := json.Marshal(share)
					if err != nil {
						return err
					}
					return os.WriteFile(cCtx.String(flagShareFile.Name), shareJSON, 0600)
				},
			},
			{
				Name:  "submit-share",
				Usage: "Decrypt a saved share and submit it to a recovering node",
				Flags: append(identityFlags, flagShareFile, flagWait),
				Action: func(cCtx *cli.Context) error {
					c, identity, err := adminClient(cCtx)
					if err != nil {
						return err
					}

					shareJSON, err := os.ReadFile(cCtx.String(flagShareFile.Name))
					if err != nil {
						return err
					}
					var share clients.ShareResponse
					if err := json.Unmarshal(shareJSON, &share); err != nil {
						return err
					}

					rawShare, err := clients.DecryptShare(identity.privateKeyPEM, share)
					if err != nil {
						return err
					}

					done, err := c.SubmitShare(cCtx.Context, rawShare)
					if err != nil {
						return err
					}
					if done {
						fmt.Println("seeds recovered")
						return nil
					}

					wait := cCtx.Duration(flagWait.Name)
					if wait == 0 {
						fmt.Println("share accepted, waiting for more shares")
						return nil
					}
					ctx, cancel := context.WithTimeout(cCtx.Context, wait)
					defer cancel()
					return c.WaitForCompletion(ctx, time.Second)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
