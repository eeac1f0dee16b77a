package cmd

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Mohsinsiddi/w3permit/internal/config"
	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOwner   = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testSpender = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testToken   = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

// useConfig installs a fresh config and clears the global flags for one test.
func useConfig(t *testing.T) *config.Config {
	t.Helper()
	c, err := config.Load(t.TempDir())
	require.NoError(t, err)
	// Ignore W3PERMIT_* values leaking in from the environment.
	c.ChainID, c.DefaultNetwork, c.RPCURL, c.TokenAddress, c.RedisURL = 0, "", "", "", ""

	savedCfg, savedLog := cfg, log
	savedChain, savedRPC, savedNet, savedAlgo := chainIDFlag, rpcFlag, networkFlag, rpcAlgoFlag
	savedToken, savedName, savedVersion := tokenFlag, nameFlag, versionFlag
	t.Cleanup(func() {
		cfg, log = savedCfg, savedLog
		chainIDFlag, rpcFlag, networkFlag, rpcAlgoFlag = savedChain, savedRPC, savedNet, savedAlgo
		tokenFlag, nameFlag, versionFlag = savedToken, savedName, savedVersion
	})

	cfg = c
	chainIDFlag, rpcFlag, networkFlag, rpcAlgoFlag = 0, "", "", "fastest"
	tokenFlag, nameFlag, versionFlag = "", "", ""
	return c
}

// chainIDServer answers eth_blockNumber and eth_chainId like a node on chainID.
func chainIDServer(t *testing.T, chainID uint64) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var result string
		switch req.Method {
		case "eth_chainId":
			result = "0x" + new(big.Int).SetUint64(chainID).Text(16)
		case "eth_blockNumber":
			result = "0x10"
		default:
			http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

// ---------------------------------------------------------------------------
// Chain id resolution
// ---------------------------------------------------------------------------

func TestResolveChainIDPrecedence(t *testing.T) {
	c := useConfig(t)
	ctx := context.Background()

	_, err := resolveChainID(ctx)
	assert.ErrorIs(t, err, errNoChainID)

	networkFlag = "sepolia"
	id, err := resolveChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11155111), id.Int64())

	c.ChainID = 31337
	id, err = resolveChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(31337), id.Int64())

	chainIDFlag = 1
	id, err = resolveChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id.Int64())
}

func TestResolveChainIDFromRPC(t *testing.T) {
	useConfig(t)
	rpcFlag = chainIDServer(t, 31337)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := resolveChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(31337), id.Int64())
}

func TestResolveChainIDUnknownNetwork(t *testing.T) {
	useConfig(t)
	networkFlag = "atlantis"
	_, err := resolveChainID(context.Background())
	assert.ErrorContains(t, err, `unknown network "atlantis"`)
}

func TestNetworkForChain(t *testing.T) {
	useConfig(t)

	n := networkForChain(big.NewInt(31337))
	require.NotNil(t, n)
	assert.Equal(t, "localhost", n.Name)

	assert.Nil(t, networkForChain(big.NewInt(424242)))
	assert.Nil(t, networkForChain(new(big.Int).Lsh(big.NewInt(1), 70)))

	networkFlag = "sepolia"
	n = networkForChain(big.NewInt(424242))
	require.NotNil(t, n)
	assert.Equal(t, "sepolia", n.Name)
}

// ---------------------------------------------------------------------------
// RPC candidates
// ---------------------------------------------------------------------------

func TestRPCCandidates(t *testing.T) {
	c := useConfig(t)
	local := networkForChain(big.NewInt(31337))
	require.NotNil(t, local)

	assert.Nil(t, rpcCandidates(nil))
	assert.Equal(t, []string{"http://127.0.0.1:8545"}, rpcCandidates(local))

	require.NoError(t, c.AddRPC("localhost", "http://10.0.0.2:8545"))
	assert.Equal(t, []string{"http://10.0.0.2:8545", "http://127.0.0.1:8545"}, rpcCandidates(local))

	c.RPCURL = "http://config:8545"
	assert.Equal(t, []string{"http://config:8545"}, rpcCandidates(local))

	rpcFlag = "http://flag:8545"
	assert.Equal(t, []string{"http://flag:8545"}, rpcCandidates(local))
}

func TestSelectRPCNoCandidates(t *testing.T) {
	useConfig(t)
	_, err := selectRPC(context.Background(), big.NewInt(424242))
	assert.ErrorIs(t, err, errNoRPC)
}

func TestSelectRPCBadAlgorithm(t *testing.T) {
	useConfig(t)
	rpcFlag = "http://127.0.0.1:1"
	rpcAlgoFlag = "random"
	_, err := selectRPC(context.Background(), big.NewInt(1))
	assert.Error(t, err)
}

func TestSelectRPCPinnedWrongChain(t *testing.T) {
	useConfig(t)
	rpcFlag = chainIDServer(t, 31337)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := selectRPC(ctx, big.NewInt(1))
	assert.ErrorIs(t, err, rpc.ErrChainMismatch)

	url, err := selectRPC(ctx, big.NewInt(31337))
	require.NoError(t, err)
	assert.Equal(t, rpcFlag, url)
}

// ---------------------------------------------------------------------------
// Domain and permit input
// ---------------------------------------------------------------------------

func TestResolveToken(t *testing.T) {
	c := useConfig(t)

	_, err := resolveToken("")
	assert.ErrorIs(t, err, errNoToken)

	c.TokenAddress = "0x5fbdb2315678afecb367f032d93f642f64180aa3"
	got, err := resolveToken("")
	require.NoError(t, err)
	assert.Equal(t, testToken, got)

	got, err = resolveToken(testSpender)
	require.NoError(t, err)
	assert.Equal(t, testSpender, got)

	_, err = resolveToken("0x1234")
	assert.ErrorIs(t, err, eip712.ErrInvalidInput)
}

func TestResolveDomainDefaults(t *testing.T) {
	useConfig(t)
	chainIDFlag = 1
	tokenFlag = testToken

	d, err := resolveDomain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.DefaultTokenName, d.Name)
	assert.Equal(t, config.DefaultTokenVersion, d.Version)
	assert.Equal(t, int64(1), d.ChainID.Int64())
	assert.Equal(t, testToken, d.VerifyingContract.Hex())

	nameFlag, versionFlag = "Other", "2"
	d, err = resolveDomain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Other", d.Name)
	assert.Equal(t, "2", d.Version)
}

func TestPermitInputParse(t *testing.T) {
	in := permitInput{Owner: testOwner, Spender: testSpender, Value: "0x0a", Nonce: "0", Deadline: "1700003600"}
	p, err := in.parse()
	require.NoError(t, err)
	assert.Equal(t, testOwner, p.Owner.Hex())
	assert.Equal(t, testSpender, p.Spender.Hex())
	assert.Equal(t, int64(10), p.Value.Int64())
	assert.Equal(t, int64(0), p.Nonce.Int64())
	assert.Equal(t, int64(1700003600), p.Deadline.Int64())
}

func TestPermitInputParseErrors(t *testing.T) {
	valid := permitInput{Owner: testOwner, Spender: testSpender, Value: "1", Nonce: "0", Deadline: "1"}

	bad := valid
	bad.Owner = "not-an-address"
	_, err := bad.parse()
	assert.ErrorIs(t, err, eip712.ErrInvalidInput)

	bad = valid
	bad.Nonce = ""
	_, err = bad.parse()
	assert.ErrorIs(t, err, eip712.ErrInvalidInput)

	bad = valid
	bad.Value = new(big.Int).Lsh(big.NewInt(1), 256).String()
	_, err = bad.parse()
	assert.ErrorIs(t, err, eip712.ErrOverflow)
}

func TestDefaultDeadline(t *testing.T) {
	now := time.Unix(1700000000, 0)
	assert.Equal(t, "1700000600", defaultDeadline(now, 600))
	assert.Equal(t, "1700003600", defaultDeadline(now, 0))
	assert.Equal(t, "1700003600", defaultDeadline(now, -5))
}

func TestDeadlineLabel(t *testing.T) {
	assert.Equal(t, "(2023-11-14T23:13:20Z)", deadlineLabel(big.NewInt(1700003600)))
	assert.Equal(t, "(never)", deadlineLabel(new(big.Int).Lsh(big.NewInt(1), 255)))
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Empty(t, firstNonEmpty("", ""))
	assert.Empty(t, firstNonEmpty())
}
