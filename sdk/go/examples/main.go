// Command examples runs an in-process openrouted API over the memory store
// and drives it with the Go SDK.
package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"OpenRoute-Chain/internal/api"
	"OpenRoute-Chain/internal/ledger"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/runner"
	"OpenRoute-Chain/sdk/go/openroute"
)

func main() {
	service := runner.NewService(ledger.NewMemoryStore(), runner.NewMemoryQueue(16), runner.NewSessions())
	srv := httptest.NewServer(api.NewServer(":0", service).Handler())
	defer srv.Close()

	client, err := openroute.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := route.Route{
		FromChainID: 1,
		FromAmount:  "1000000",
		FromAddress: "0x1111111111111111111111111111111111111111",
		ToChainID:   10,
		Steps: []route.Step{{
			Type:   route.StepTypeCross,
			Tool:   "stargate",
			Action: route.Action{FromChainID: 1, ToChainID: 10, Slippage: 0.005},
		}},
	}
	rec, err := client.SubmitRoute(ctx, openroute.Submission{Route: r, Account: r.FromAddress})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted route %s (status=%s)\n", rec.ID, rec.Status)

	if err := client.SetInteraction(ctx, rec.ID, false); err != nil {
		panic(err)
	}
	stats, err := client.Stats(ctx, openroute.ListQuery{})
	if err != nil {
		panic(err)
	}
	fmt.Printf("routes by status: %v\n", stats.ByStatus)
}
