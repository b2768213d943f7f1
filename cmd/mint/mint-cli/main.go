package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/elnosh/starknuts/cashu/nuts/nut02"
	"github.com/elnosh/starknuts/mint/manager"
	"github.com/elnosh/starknuts/mint/rpc"
	"github.com/urfave/cli/v2"
)

const (
	ADMIN_URL_FLAG = "admin-url"
	RPC_FLAG       = "rpc"
	TOKEN_FLAG     = "token"
	INSECURE_FLAG  = "insecure"
	KEYSET_FLAG    = "keyset"

	requestTimeout = 30 * time.Second
)

func main() {
	app := &cli.App{
		Name:  "starknuts-cli",
		Usage: "cli to administer a starknuts mint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  ADMIN_URL_FLAG,
				Usage: "url of the mint admin http server",
				Value: "http://127.0.0.1:4448",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "issued",
				Usage: "Get issued ecash",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  KEYSET_FLAG,
						Usage: "Issued ecash for the specified keyset",
					},
				},
				Action: issuedEcash,
			},
			{
				Name:  "redeemed",
				Usage: "Get redeemed ecash",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  KEYSET_FLAG,
						Usage: "Redeemed ecash for the specified keyset",
					},
				},
				Action: redeemedEcash,
			},
			{
				Name:   "totalbalance",
				Usage:  "Get total ecash in circulation",
				Action: totalBalance,
			},
			{
				Name:   "keysets",
				Usage:  "List keysets",
				Action: listKeysets,
			},
			{
				Name:  "rotatekeysets",
				Usage: "Rotate the active keyset of every unit",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  RPC_FLAG,
						Usage: "rotate through the admin rpc at this address instead of the http server",
					},
					&cli.StringFlag{
						Name:    TOKEN_FLAG,
						Usage:   "bearer token for the admin rpc",
						EnvVars: []string{"ADMIN_TOKEN"},
					},
					&cli.BoolFlag{
						Name:  INSECURE_FLAG,
						Usage: "connect to the admin rpc without tls",
					},
				},
				Action: rotateKeysets,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func adminRequest(ctx *cli.Context, method, path string, result any) error {
	endpoint, err := url.JoinPath(ctx.String(ADMIN_URL_FLAG), path)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx.Context, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin request failed (%v): %s", resp.StatusCode, body)
	}
	return json.Unmarshal(body, result)
}

func issuedEcash(ctx *cli.Context) error {
	keyset := ctx.String(KEYSET_FLAG)

	if len(keyset) > 0 {
		var issuedByKeyset manager.KeysetIssued
		if err := adminRequest(ctx, http.MethodGet, "/issued/"+keyset, &issuedByKeyset); err != nil {
			return err
		}
		fmt.Printf("Issued: %v\n", issuedByKeyset.AmountIssued)
		return nil
	}

	var issuedResponse manager.IssuedEcashResponse
	if err := adminRequest(ctx, http.MethodGet, "/issued", &issuedResponse); err != nil {
		return err
	}
	fmt.Println("Issued by keyset:")
	for _, keyset := range issuedResponse.Keysets {
		fmt.Printf("\t%v: %v\n", keyset.Id, keyset.AmountIssued)
	}
	fmt.Printf("\nTotal issued: %v\n", issuedResponse.TotalIssued)
	return nil
}

func redeemedEcash(ctx *cli.Context) error {
	keyset := ctx.String(KEYSET_FLAG)

	if len(keyset) > 0 {
		var redeemedByKeyset manager.KeysetRedeemed
		if err := adminRequest(ctx, http.MethodGet, "/redeemed/"+keyset, &redeemedByKeyset); err != nil {
			return err
		}
		fmt.Printf("Redeemed: %v\n", redeemedByKeyset.AmountRedeemed)
		return nil
	}

	var redeemedResponse manager.RedeemedEcashResponse
	if err := adminRequest(ctx, http.MethodGet, "/redeemed", &redeemedResponse); err != nil {
		return err
	}
	fmt.Println("Redeemed by keyset:")
	for _, keyset := range redeemedResponse.Keysets {
		fmt.Printf("\t%v: %v\n", keyset.Id, keyset.AmountRedeemed)
	}
	fmt.Printf("\nTotal redeemed: %v\n", redeemedResponse.TotalRedeemed)
	return nil
}

func totalBalance(ctx *cli.Context) error {
	var totalBalanceResponse manager.TotalBalanceResponse
	if err := adminRequest(ctx, http.MethodGet, "/totalbalance", &totalBalanceResponse); err != nil {
		return err
	}

	fmt.Println("Issued by keyset:")
	for _, keyset := range totalBalanceResponse.TotalIssued.Keysets {
		fmt.Printf("\t%v: %v\n", keyset.Id, keyset.AmountIssued)
	}
	fmt.Printf("Total issued: %v\n", totalBalanceResponse.TotalIssued.TotalIssued)

	fmt.Println("\nRedeemed by keyset:")
	for _, keyset := range totalBalanceResponse.TotalRedeemed.Keysets {
		fmt.Printf("\t%v: %v\n", keyset.Id, keyset.AmountRedeemed)
	}
	fmt.Printf("Total redeemed: %v\n", totalBalanceResponse.TotalRedeemed.TotalRedeemed)

	fmt.Printf("\nTotal in circulation: %v\n", totalBalanceResponse.TotalInCirculation)
	return nil
}

func listKeysets(ctx *cli.Context) error {
	var keysets nut02.GetKeysetsResponse
	if err := adminRequest(ctx, http.MethodGet, "/keysets", &keysets); err != nil {
		return err
	}

	fmt.Println("Keysets: ")
	for _, keyset := range keysets.Keysets {
		fmt.Printf("\n%v\n", keyset.Id)
		fmt.Printf("\tunit: %v\n", keyset.Unit)
		fmt.Printf("\tactive: %v\n", keyset.Active)
	}
	return nil
}

func rotateKeysets(ctx *cli.Context) error {
	address := ctx.String(RPC_FLAG)
	if len(address) == 0 {
		var rotated manager.RotateKeysetsResponse
		if err := adminRequest(ctx, http.MethodPost, "/rotatekeysets", &rotated); err != nil {
			return err
		}
		fmt.Println("New keysets: ")
		for _, keyset := range rotated.Keysets {
			fmt.Printf("\n%v\n", keyset.Id)
			fmt.Printf("\tunit: %v\n", keyset.Unit)
			fmt.Printf("\tindex: %v\n", keyset.Index)
		}
		return nil
	}

	token := ctx.String(TOKEN_FLAG)
	if len(token) == 0 {
		return errors.New("please specify the admin token")
	}
	conn, err := rpc.Dial(address, ctx.Bool(INSECURE_FLAG))
	if err != nil {
		return err
	}
	defer conn.Close()

	reqCtx, cancel := context.WithTimeout(ctx.Context, requestTimeout)
	defer cancel()
	resp, err := rpc.NewAdminClient(conn, token).RotateKeysets(reqCtx)
	if err != nil {
		return err
	}
	fmt.Println("New keysets: ")
	for _, keyset := range resp.Keysets {
		fmt.Printf("\n%v\n", keyset.Id)
		fmt.Printf("\tunit: %v\n", keyset.Unit)
		fmt.Printf("\tactive: %v\n", keyset.Active)
	}
	return nil
}
