package prime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"grove-ledger-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const defaultPortfolioName = "Default Portfolio"

// Service wraps the Prime REST client used to pay grove revenue out to
// external blockchain addresses.
type Service struct {
	portfoliosSvc   portfolios.PortfoliosService
	walletsSvc      wallets.WalletsService
	transactionsSvc transactions.TransactionsService
}

func NewService(creds *credentials.Credentials) (*Service, error) {
	httpClient, err := newHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create http client: %w", err)
	}
	restClient := client.NewRestClient(creds, httpClient)

	return &Service{
		portfoliosSvc:   portfolios.NewPortfoliosService(restClient),
		walletsSvc:      wallets.NewWalletsService(restClient),
		transactionsSvc: transactions.NewTransactionsService(restClient),
	}, nil
}

func newHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConnsPerHost: 5,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}
	return http.Client{Transport: tr, Timeout: 60 * time.Second}, nil
}

// FindDefaultPortfolio returns the portfolio withdrawals are drawn from.
func (s *Service) FindDefaultPortfolio(ctx context.Context) (*models.Portfolio, error) {
	response, err := s.portfoliosSvc.ListPortfolios(ctx, &portfolios.ListPortfoliosRequest{})
	if err != nil {
		return nil, fmt.Errorf("unable to list portfolios: %w", err)
	}
	for _, p := range response.Portfolios {
		if p.Name == defaultPortfolioName {
			return &models.Portfolio{Id: p.Id, Name: p.Name}, nil
		}
	}
	return nil, fmt.Errorf("%q not found among %d portfolios", defaultPortfolioName, len(response.Portfolios))
}

func (s *Service) ListWallets(ctx context.Context, portfolioId, walletType string, symbols []string) ([]models.Wallet, error) {
	response, err := s.walletsSvc.ListWallets(ctx, &wallets.ListWalletsRequest{
		PortfolioId: portfolioId,
		Type:        walletType,
		Symbols:     symbols,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list wallets: %w", err)
	}
	walletList := make([]models.Wallet, len(response.Wallets))
	for i, w := range response.Wallets {
		walletList[i] = models.Wallet{Id: w.Id, Name: w.Name, Symbol: w.Symbol, Type: w.Type}
	}
	return walletList, nil
}

// CreateWithdrawalParams describes a blockchain withdrawal from a Prime wallet.
type CreateWithdrawalParams struct {
	PortfolioId        string
	WalletId           string
	DestinationAddress string
	Amount             string
	Symbol             string
	Network            string // e.g. base-mainnet; empty uses the asset's default network
	IdempotencyKey     string
}

// networkDetails splits a network like base-mainnet into its id and type.
func networkDetails(network string) *model.NetworkDetails {
	id, kind, ok := strings.Cut(network, "-")
	if !ok || id == "" || kind == "" {
		return nil
	}
	return &model.NetworkDetails{Id: id, Type: kind}
}

func (s *Service) CreateWithdrawal(ctx context.Context, params CreateWithdrawalParams) (*models.Withdrawal, error) {
	response, err := s.transactionsSvc.CreateWalletWithdrawal(ctx, &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:     params.PortfolioId,
		SourceWalletId:  params.WalletId,
		Amount:          params.Amount,
		IdempotencyKey:  params.IdempotencyKey,
		Symbol:          params.Symbol,
		DestinationType: "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: &model.BlockchainAddress{
			Address: params.DestinationAddress,
			Network: networkDetails(params.Network),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create withdrawal of %s %s: %w", params.Amount, params.Symbol, err)
	}

	zap.L().Info("Prime withdrawal created",
		zap.String("activity_id", response.ActivityId),
		zap.String("wallet_id", params.WalletId),
		zap.String("symbol", params.Symbol),
		zap.String("network", params.Network),
		zap.String("amount", params.Amount))

	return &models.Withdrawal{
		ActivityId:     response.ActivityId,
		Asset:          params.Symbol,
		Network:        params.Network,
		Amount:         params.Amount,
		Destination:    params.DestinationAddress,
		IdempotencyKey: params.IdempotencyKey,
	}, nil
}
