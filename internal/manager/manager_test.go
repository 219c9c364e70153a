package manager

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"privpool/internal/accumulator"
	"privpool/internal/commitment"
	"privpool/internal/metrics"
	"privpool/internal/seed"
	"privpool/internal/tokentype"
	"privpool/internal/transactions"
)

// fakeHistory serves canned answers and counts calls.
type fakeHistory struct {
	pending  []transactions.Transaction
	balances map[uint64]*big.Int

	pendingCalls atomic.Int64
	balanceCalls atomic.Int64
}

func (h *fakeHistory) Pending(ctx context.Context, tokenType tokentype.TokenType, before *transactions.Send) ([]transactions.Transaction, error) {
	h.pendingCalls.Add(1)
	return h.pending, nil
}

func (h *fakeHistory) BalanceBeforeNonce(ctx context.Context, tokenType tokentype.TokenType, nonce uint64) (*big.Int, error) {
	h.balanceCalls.Add(1)
	b, ok := h.balances[nonce]
	if !ok {
		return nil, errors.New("no balance recorded")
	}
	return new(big.Int).Set(b), nil
}

// fakeTree records queries and answers from a fixed table.
type fakeTree struct {
	mu       sync.Mutex
	leaves   map[commitment.Hash]uint64
	queries  [][]accumulator.Query
	contains int
}

func newFakeTree() *fakeTree {
	return &fakeTree{leaves: make(map[commitment.Hash]uint64)}
}

func (t *fakeTree) Find(ctx context.Context, queries []accumulator.Query) ([]accumulator.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries = append(t.queries, queries)
	out := make([]accumulator.Result, len(queries))
	for i, q := range queries {
		if index, ok := t.leaves[q.Hash]; ok && index >= q.StartIndex {
			out[i] = accumulator.Result{Found: true, LeafIndex: index, Root: commitment.Hash{0xee}}
		}
	}
	return out, nil
}

func (t *fakeTree) Contains(ctx context.Context, hash commitment.Hash, start uint64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contains++
	index, ok := t.leaves[hash]
	return ok && index >= start, nil
}

func (t *fakeTree) calls() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queries), t.contains
}

func testSeed(t *testing.T) *seed.Seed {
	t.Helper()
	s, err := seed.New([]byte("correct horse battery staple"))
	require.NoError(t, err)
	return s
}

func lamportsID(t *testing.T) uint16 {
	t.Helper()
	id, err := tokentype.ID(tokentype.Lamports)
	require.NoError(t, err)
	return id
}

// newSend drafts a send whose recorded hash matches priorBalance.
func newSend(t *testing.T, s SeedProvider, nonce uint64, priorBalance, amount, fee int64, start *uint64) *transactions.Send {
	t.Helper()
	hdr := transactions.TxHeader{Nonce: nonce, TokenType: tokentype.Lamports, TreeStartIndex: start}
	ic, err := BuildForSend(s.Nullifier(nonce), tokentype.Lamports, big.NewInt(priorBalance), big.NewInt(amount), big.NewInt(fee), hdr.StartIndexOrZero())
	require.NoError(t, err)
	return &transactions.Send{
		TxHeader:       hdr,
		Amount:         big.NewInt(amount),
		Fee:            big.NewInt(fee),
		CommitmentHash: ic.Hash(),
	}
}

func TestBuildForSendScenario(t *testing.T) {
	s := testSeed(t)
	start := uint64(17)
	ic, err := BuildForSend(s.Nullifier(3), tokentype.Lamports, big.NewInt(1000), big.NewInt(200), big.NewInt(10), start)
	require.NoError(t, err)
	require.Equal(t, int64(790), ic.Balance().Int64())

	want := commitment.ComputeHash(s.Nullifier(3), big.NewInt(790), lamportsID(t), start)
	require.Equal(t, want, ic.Hash())
}

func TestBuildForSendBeyond64Bits(t *testing.T) {
	s := testSeed(t)
	prior := new(big.Int).Lsh(big.NewInt(1), 90)
	amount := new(big.Int).Lsh(big.NewInt(1), 70)
	fee := big.NewInt(12345)

	ic, err := BuildForSend(s.Nullifier(1), tokentype.BONK, prior, amount, fee, 0)
	require.NoError(t, err)

	want := new(big.Int).Sub(prior, amount)
	want.Sub(want, fee)
	require.Equal(t, 0, want.Cmp(ic.Balance()))
	// inputs are not modified
	require.Equal(t, 0, prior.Cmp(new(big.Int).Lsh(big.NewInt(1), 90)))
}

func TestBuildUnknownTokenType(t *testing.T) {
	s := testSeed(t)
	_, err := BuildForSend(s.Nullifier(1), "DOGE", big.NewInt(1), big.NewInt(0), big.NewInt(0), 0)
	require.ErrorIs(t, err, ErrUnknownTokenType)

	_, err = BuildForTopup(&transactions.Topup{
		TxHeader: transactions.TxHeader{Nonce: 1, TokenType: "DOGE"},
		Amount:   big.NewInt(5),
	}, s)
	require.ErrorIs(t, err, ErrUnknownTokenType)
}

func TestBuildForTopup(t *testing.T) {
	s := testSeed(t)
	tx := &transactions.Topup{
		TxHeader: transactions.TxHeader{Nonce: 4, TokenType: tokentype.Lamports, TreeStartIndex: transactions.Uint64Ptr(8)},
		Amount:   big.NewInt(500),
	}
	ic, err := BuildForTopup(tx, s)
	require.NoError(t, err)
	require.Equal(t, commitment.ComputeHash(s.Nullifier(4), big.NewInt(500), lamportsID(t), 8), ic.Hash())
}

func TestResolveFastPath(t *testing.T) {
	s := testSeed(t)
	hist := &fakeHistory{}
	mc := metrics.New()
	m := New(hist, newFakeTree(), WithMetrics(mc))

	tx := newSend(t, s, 3, 1000, 200, 10, nil)
	tx.Metadata = &transactions.Metadata{Nonce: 3, BalanceBefore: big.NewInt(1000), TokenType: tokentype.Lamports}

	ic, err := m.ResolveSendCommitment(context.Background(), tx, s)
	require.NoError(t, err)
	require.Equal(t, tx.CommitmentHash, ic.Hash())
	require.Equal(t, int64(790), ic.Balance().Int64())
	require.Zero(t, hist.balanceCalls.Load())
	require.Zero(t, hist.pendingCalls.Load())
	require.EqualValues(t, 1, mc.Counter(metrics.MetricFastPathHits, map[string]string{"token": "LAMPORTS"}))
}

func TestResolveStaleMetadataFallsBack(t *testing.T) {
	s := testSeed(t)
	hist := &fakeHistory{balances: map[uint64]*big.Int{3: big.NewInt(1000)}}
	m := New(hist, newFakeTree())

	tx := newSend(t, s, 3, 1000, 200, 10, nil)
	tx.Metadata = &transactions.Metadata{Nonce: 3, BalanceBefore: big.NewInt(999), TokenType: tokentype.Lamports}

	ic, err := m.ResolveSendCommitment(context.Background(), tx, s)
	require.NoError(t, err)
	require.Equal(t, tx.CommitmentHash, ic.Hash())
	require.EqualValues(t, 1, hist.balanceCalls.Load())
}

func TestResolveWithoutMetadata(t *testing.T) {
	s := testSeed(t)
	hist := &fakeHistory{balances: map[uint64]*big.Int{3: big.NewInt(1000)}}
	m := New(hist, newFakeTree())

	tx := newSend(t, s, 3, 1000, 200, 10, transactions.Uint64Ptr(5))
	ic, err := m.ResolveSendCommitment(context.Background(), tx, s)
	require.NoError(t, err)
	require.Equal(t, tx.CommitmentHash, ic.Hash())
	require.EqualValues(t, 5, ic.TreeStartIndex())
	require.EqualValues(t, 1, hist.balanceCalls.Load())
}

func TestResolveMismatch(t *testing.T) {
	s := testSeed(t)
	// history disagrees with both the hash and the metadata
	hist := &fakeHistory{balances: map[uint64]*big.Int{3: big.NewInt(1001)}}
	mc := metrics.New()
	m := New(hist, newFakeTree(), WithMetrics(mc))

	tx := newSend(t, s, 3, 1000, 200, 10, nil)
	tx.Metadata = &transactions.Metadata{Nonce: 3, BalanceBefore: big.NewInt(42), TokenType: tokentype.Lamports}

	for i := 0; i < 2; i++ {
		_, err := m.ResolveSendCommitment(context.Background(), tx, s)
		require.ErrorIs(t, err, ErrCommitmentMismatch)
		var mismatch *MismatchError
		require.True(t, errors.As(err, &mismatch))
		require.EqualValues(t, 3, mismatch.Nonce)
		require.Equal(t, "failed to reconstruct commitment for nonce 3", err.Error())
	}
	require.EqualValues(t, 2, mc.Counter(metrics.MetricCommitmentMismatch, map[string]string{"token": "LAMPORTS"}))
}

func TestResolveWrongSeed(t *testing.T) {
	s := testSeed(t)
	other, err := seed.New([]byte("another user"))
	require.NoError(t, err)
	hist := &fakeHistory{balances: map[uint64]*big.Int{3: big.NewInt(1000)}}
	m := New(hist, newFakeTree())

	tx := newSend(t, s, 3, 1000, 200, 10, nil)
	_, err = m.ResolveSendCommitment(context.Background(), tx, other)
	require.ErrorIs(t, err, ErrCommitmentMismatch)
}

func TestResolveHistoryError(t *testing.T) {
	s := testSeed(t)
	m := New(&fakeHistory{}, newFakeTree())
	tx := newSend(t, s, 3, 1000, 200, 10, nil)
	_, err := m.ResolveSendCommitment(context.Background(), tx, s)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrCommitmentMismatch)
}

func TestNormalizeStartIndices(t *testing.T) {
	p := transactions.Uint64Ptr
	require.Equal(t, []uint64{0, 5, 5, 5, 9}, NormalizeStartIndices([]*uint64{nil, p(5), nil, nil, p(9)}))
	require.Equal(t, []uint64{0, 42}, NormalizeStartIndices([]*uint64{nil, p(42)}))
	require.Equal(t, []uint64{3, 3, 0, 0}, NormalizeStartIndices([]*uint64{p(3), nil, p(0), nil}))
	require.Empty(t, NormalizeStartIndices(nil))
}

func TestBuildActiveSetPreservesOrder(t *testing.T) {
	s := testSeed(t)
	hist := &fakeHistory{balances: map[uint64]*big.Int{}}
	var txs []transactions.Transaction
	var want []commitment.Hash
	for n := uint64(1); n <= 12; n++ {
		if n%3 == 0 {
			tx := &transactions.Topup{
				TxHeader: transactions.TxHeader{Nonce: n, TokenType: tokentype.Lamports},
				Amount:   big.NewInt(int64(n)),
			}
			ic, err := BuildForTopup(tx, s)
			require.NoError(t, err)
			want = append(want, ic.Hash())
			txs = append(txs, tx)
			continue
		}
		hist.balances[n] = big.NewInt(int64(1000 * n))
		tx := newSend(t, s, n, int64(1000*n), 1, 1, transactions.Uint64Ptr(n))
		want = append(want, tx.CommitmentHash)
		txs = append(txs, tx)
	}

	m := New(hist, newFakeTree(), WithConcurrency(2))
	set, starts, err := m.BuildActiveSet(context.Background(), txs, s)
	require.NoError(t, err)
	require.Equal(t, want, set.Hashes())
	require.Len(t, starts, len(txs))
	for i, tx := range txs {
		if _, ok := tx.(*transactions.Topup); ok {
			require.Nil(t, starts[i])
		} else {
			require.EqualValues(t, tx.Header().Nonce, *starts[i])
		}
	}
	require.EqualValues(t, 8, hist.balanceCalls.Load())
}

func TestBuildActiveSetCollapsesDuplicates(t *testing.T) {
	s := testSeed(t)
	topup := &transactions.Topup{
		TxHeader: transactions.TxHeader{Nonce: 1, TokenType: tokentype.Lamports},
		Amount:   big.NewInt(10),
	}
	m := New(&fakeHistory{}, newFakeTree())
	set, starts, err := m.BuildActiveSet(context.Background(), []transactions.Transaction{topup, topup}, s)
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	require.Len(t, starts, 2)
}

func TestBuildActiveSetPropagatesMismatch(t *testing.T) {
	s := testSeed(t)
	hist := &fakeHistory{balances: map[uint64]*big.Int{2: big.NewInt(1), 3: big.NewInt(1000)}}
	good := newSend(t, s, 3, 1000, 1, 1, nil)
	bad := newSend(t, s, 2, 500, 1, 1, nil)

	m := New(hist, newFakeTree())
	_, _, err := m.BuildActiveSet(context.Background(), []transactions.Transaction{bad, good}, s)
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	require.EqualValues(t, 2, mismatch.Nonce)
}

func TestActivateRequestsNormalizedIndices(t *testing.T) {
	s := testSeed(t)
	hist := &fakeHistory{balances: map[uint64]*big.Int{1: big.NewInt(1000), 2: big.NewInt(790)}}
	first := newSend(t, s, 1, 1000, 200, 10, nil)
	second := newSend(t, s, 2, 790, 90, 0, transactions.Uint64Ptr(42))

	tree := newFakeTree()
	tree.leaves[first.CommitmentHash] = 3
	tree.leaves[second.CommitmentHash] = 50

	m := New(hist, tree)
	set, starts, err := m.BuildActiveSet(context.Background(), []transactions.Transaction{first, second}, s)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 42}, NormalizeStartIndices(starts))

	active, err := m.Activate(context.Background(), set, starts)
	require.NoError(t, err)

	require.Len(t, tree.queries, 1)
	require.Equal(t, []accumulator.Query{
		{Hash: first.CommitmentHash, StartIndex: 0},
		{Hash: second.CommitmentHash, StartIndex: 42},
	}, tree.queries[0])

	items := active.Items()
	require.Len(t, items, 2)
	require.Equal(t, first.CommitmentHash, items[0].Hash())
	require.EqualValues(t, 3, items[0].LeafIndex())
	require.Equal(t, second.CommitmentHash, items[1].Hash())
	require.EqualValues(t, 50, items[1].LeafIndex())
}

func TestActivateAlignsIndicesAfterDuplicates(t *testing.T) {
	s := testSeed(t)
	a := &transactions.Topup{TxHeader: transactions.TxHeader{Nonce: 1, TokenType: tokentype.Lamports}, Amount: big.NewInt(1)}
	b := &transactions.Topup{TxHeader: transactions.TxHeader{Nonce: 2, TokenType: tokentype.Lamports, TreeStartIndex: transactions.Uint64Ptr(9)}, Amount: big.NewInt(2)}
	ia, err := BuildForTopup(a, s)
	require.NoError(t, err)
	ib, err := BuildForTopup(b, s)
	require.NoError(t, err)

	tree := newFakeTree()
	tree.leaves[ia.Hash()] = 1
	tree.leaves[ib.Hash()] = 10

	m := New(&fakeHistory{}, tree)
	set, starts, err := m.BuildActiveSet(context.Background(), []transactions.Transaction{a, a, b}, s)
	require.NoError(t, err)
	_, err = m.Activate(context.Background(), set, starts)
	require.NoError(t, err)
	require.Equal(t, []accumulator.Query{
		{Hash: ia.Hash(), StartIndex: 0},
		{Hash: ib.Hash(), StartIndex: 9},
	}, tree.queries[0])
}

func TestActivateIncomplete(t *testing.T) {
	s := testSeed(t)
	tx := &transactions.Topup{TxHeader: transactions.TxHeader{Nonce: 1, TokenType: tokentype.Lamports}, Amount: big.NewInt(1)}
	m := New(&fakeHistory{}, newFakeTree())

	set, starts, err := m.BuildActiveSet(context.Background(), []transactions.Transaction{tx}, s)
	require.NoError(t, err)
	_, err = m.Activate(context.Background(), set, starts)
	require.ErrorIs(t, err, ErrActivationIncomplete)
	var ae *ActivationError
	require.True(t, errors.As(err, &ae))
	require.Equal(t, set.Hashes()[0], ae.Hash)
}

func TestActivateEmptySetSkipsTree(t *testing.T) {
	tree := newFakeTree()
	m := New(&fakeHistory{}, tree)
	active, err := m.Activate(context.Background(), commitment.NewSet[*commitment.Incomplete](), nil)
	require.NoError(t, err)
	require.Equal(t, 0, active.Len())
	finds, _ := tree.calls()
	require.Zero(t, finds)
}

func TestActiveCommitmentsEmpty(t *testing.T) {
	hist := &fakeHistory{}
	tree := newFakeTree()
	m := New(hist, tree)

	active, err := m.ActiveCommitments(context.Background(), tokentype.Lamports, testSeed(t), nil)
	require.NoError(t, err)
	require.Equal(t, 0, active.Len())
	require.EqualValues(t, 1, hist.pendingCalls.Load())
	finds, contains := tree.calls()
	require.Zero(t, finds)
	require.Zero(t, contains)
}

func TestActiveCommitmentsPendingBarrier(t *testing.T) {
	s := testSeed(t)
	confirmed := &transactions.Topup{TxHeader: transactions.TxHeader{Nonce: 1, TokenType: tokentype.Lamports}, Amount: big.NewInt(100)}
	unconfirmed := &transactions.Topup{TxHeader: transactions.TxHeader{Nonce: 2, TokenType: tokentype.Lamports}, Amount: big.NewInt(50)}
	ic, err := BuildForTopup(confirmed, s)
	require.NoError(t, err)

	tree := newFakeTree()
	tree.leaves[ic.Hash()] = 0
	mc := metrics.New()
	m := New(&fakeHistory{pending: []transactions.Transaction{confirmed, unconfirmed}}, tree, WithMetrics(mc))

	_, err = m.ActiveCommitments(context.Background(), tokentype.Lamports, s, nil)
	require.ErrorIs(t, err, ErrPendingConfirmation)
	finds, _ := tree.calls()
	require.Zero(t, finds)
	require.EqualValues(t, 1, mc.Counter(metrics.MetricPendingRejections, map[string]string{"token": "LAMPORTS"}))
}

func TestActiveCommitmentsUnknownToken(t *testing.T) {
	hist := &fakeHistory{}
	m := New(hist, newFakeTree())
	_, err := m.ActiveCommitments(context.Background(), "DOGE", testSeed(t), nil)
	require.ErrorIs(t, err, ErrUnknownTokenType)
	require.Zero(t, hist.pendingCalls.Load())
}

func TestNeedsMerge(t *testing.T) {
	set := commitment.NewSet[*commitment.Incomplete]()
	for i := 0; i < SendArity+1; i++ {
		ok, err := NeedsMerge(set)
		if set.Len() > SendArity {
			require.ErrorIs(t, err, ErrTooManyActiveCommitments)
		} else {
			require.NoError(t, err)
			require.Equal(t, set.Len() == SendArity, ok)
		}
		var n commitment.Nullifier
		n[0] = byte(i)
		set.Add(commitment.NewIncomplete(n, big.NewInt(1), 0, 0))
	}
	_, err := NeedsMerge(set)
	require.ErrorIs(t, err, ErrTooManyActiveCommitments)
}
