package config

import "testing"

func validConfig() *Config {
	return &Config{
		EVMChains: map[string]EVMChainConfig{
			"ethereum-mainnet": {ChainID: "ethereum-mainnet", RPCURL: "https://rpc.example.com"},
		},
		CosmosChains: map[string]CosmosChainConfig{
			"noble-1": {ChainID: "noble-1", Prefix: "noble", GRPCURL: "grpc.example.com:9090"},
		},
		Indexer: IndexerConfig{MaxConcurrentChains: 4, GlobalBatchSize: 100},
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsKeyMismatch(t *testing.T) {
	cfg := validConfig()
	cfg.EVMChains["wrong-key"] = cfg.EVMChains["ethereum-mainnet"]
	delete(cfg.EVMChains, "ethereum-mainnet")
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error on chain_id/key mismatch")
	}
}

func TestValidateRejectsBadScheme(t *testing.T) {
	cfg := validConfig()
	c := cfg.EVMChains["ethereum-mainnet"]
	c.RPCURL = "ftp://rpc.example.com"
	cfg.EVMChains["ethereum-mainnet"] = c
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error on non-http(s) rpc_url")
	}
}

func TestValidateRejectsEmptyCosmosPrefix(t *testing.T) {
	cfg := validConfig()
	c := cfg.CosmosChains["noble-1"]
	c.Prefix = ""
	cfg.CosmosChains["noble-1"] = c
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error on empty cosmos prefix")
	}
}

func TestValidateRejectsNonPositiveBatchSize(t *testing.T) {
	cfg := validConfig()
	cfg.Indexer.GlobalBatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error on non-positive batch size")
	}
}
