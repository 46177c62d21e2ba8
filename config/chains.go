package config

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/dymensionxyz/ibc-convergence/cosmos"
)

const (
	rpcPort  = "26657/tcp"
	grpcPort = "9090/tcp"
)

// Endpoints resolves the ledger endpoints. Missing ones are looked up as the
// host ports published by the docker container.
func (c ChainConfig) Endpoints(ctx context.Context, docker cosmos.DockerAPI) (cosmos.Endpoints, error) {
	ep := cosmos.Endpoints{GRPC: c.GRPC, RPC: c.RPC}
	if ep.RPC == "" {
		ep.RPC = c.Node
	}
	if ep.GRPC != "" && ep.RPC != "" {
		return ep, nil
	}
	if c.DockerContainer == "" || docker == nil {
		return cosmos.Endpoints{}, fmt.Errorf("chain %s: grpc and rpc endpoints are required without a docker container", c.Name)
	}
	if ep.GRPC == "" {
		addr, err := cosmos.HostPort(ctx, docker, c.DockerContainer, nat.Port(grpcPort))
		if err != nil {
			return cosmos.Endpoints{}, err
		}
		ep.GRPC = addr
	}
	if ep.RPC == "" {
		addr, err := cosmos.HostPort(ctx, docker, c.DockerContainer, nat.Port(rpcPort))
		if err != nil {
			return cosmos.Endpoints{}, err
		}
		ep.RPC = "http://" + addr
	}
	return ep, nil
}

// Executor runs the cli inside the docker container when one is configured,
// on the host otherwise.
func (c ChainConfig) Executor(log *zap.Logger, docker cosmos.DockerAPI) cosmos.Executor {
	if c.DockerContainer != "" && docker != nil {
		return cosmos.DockerExecutor{Client: docker, Container: c.DockerContainer, Log: log}
	}
	return cosmos.LocalExecutor{}
}

// Connect builds a client for the ledger.
func (c ChainConfig) Connect(ctx context.Context, log *zap.Logger, docker cosmos.DockerAPI) (*cosmos.CosmosChain, error) {
	ep, err := c.Endpoints(ctx, docker)
	if err != nil {
		return nil, err
	}
	cfg := c.IBC()
	if c.DockerContainer != "" && cfg.Node == "" {
		// the cli runs next to the node
		cfg.Node = "tcp://localhost:26657"
	}
	return cosmos.NewCosmosChain(log, cfg, ep, c.Executor(log, docker))
}
