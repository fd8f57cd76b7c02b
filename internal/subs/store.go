package subs

import (
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type UserSubs struct {
	LargeTxMinWei *big.Int
	Wallets       []common.Address
	FollowBots    bool
}

type userSubs struct {
	largeTxMinWei *big.Int
	wallets       map[common.Address]struct{}
	followBots    bool
}

// Store holds per-chat watch settings plus the global list of tracked bot
// addresses.
type Store struct {
	mu   sync.RWMutex
	data map[int64]*userSubs
	bots map[common.Address]struct{}
}

func NewStore(bots ...common.Address) *Store {
	s := &Store{
		data: make(map[int64]*userSubs),
		bots: make(map[common.Address]struct{}, len(bots)),
	}
	for _, b := range bots {
		s.bots[b] = struct{}{}
	}
	return s
}

func (s *Store) IsBot(addr common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bots[addr]
	return ok
}

func (s *Store) Bots() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Address, 0, len(s.bots))
	for b := range s.bots {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b common.Address) int { return a.Cmp(b) })
	return out
}

func (s *Store) SetLargeTxMin(chatID int64, minWei *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.getOrCreate(chatID)
	if minWei == nil {
		u.largeTxMinWei = nil
		s.cleanupIfEmpty(chatID, u)
		return
	}
	u.largeTxMinWei = new(big.Int).Set(minWei)
}

func (s *Store) AddWallet(chatID int64, addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.getOrCreate(chatID)
	u.wallets[addr] = struct{}{}
}

func (s *Store) RemoveWallet(chatID int64, addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.data[chatID]
	if u == nil {
		return
	}
	delete(u.wallets, addr)
	s.cleanupIfEmpty(chatID, u)
}

func (s *Store) SetFollowBots(chatID int64, follow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.getOrCreate(chatID)
	u.followBots = follow
	s.cleanupIfEmpty(chatID, u)
}

func (s *Store) ClearAll(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, chatID)
}

// GetCopy returns a detached copy of the chat's settings.
func (s *Store) GetCopy(chatID int64) (UserSubs, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.data[chatID]
	if u == nil {
		return UserSubs{}, false
	}

	out := UserSubs{FollowBots: u.followBots}
	if u.largeTxMinWei != nil {
		out.LargeTxMinWei = new(big.Int).Set(u.largeTxMinWei)
	}
	for a := range u.wallets {
		out.Wallets = append(out.Wallets, a)
	}
	slices.SortFunc(out.Wallets, func(a, b common.Address) int { return a.Cmp(b) })
	return out, true
}

// MatchTx returns, in ascending order, the chats interested in a transfer.
func (s *Store) MatchTx(sender common.Address, receiver *common.Address, valueWei *big.Int) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, senderBot := s.bots[sender]
	receiverBot := false
	if receiver != nil {
		_, receiverBot = s.bots[*receiver]
	}

	var out []int64
	for chatID, u := range s.data {
		if u == nil {
			continue
		}

		if u.followBots && (senderBot || receiverBot) {
			out = append(out, chatID)
			continue
		}

		// large volume
		if u.largeTxMinWei != nil && valueWei != nil && valueWei.Sign() > 0 {
			if valueWei.Cmp(u.largeTxMinWei) >= 0 {
				out = append(out, chatID)
				continue
			}
		}

		// wallets
		if _, ok := u.wallets[sender]; ok {
			out = append(out, chatID)
			continue
		}
		if receiver != nil {
			if _, ok := u.wallets[*receiver]; ok {
				out = append(out, chatID)
				continue
			}
		}
	}
	slices.Sort(out)
	return out
}

func (s *Store) getOrCreate(chatID int64) *userSubs {
	u := s.data[chatID]
	if u == nil {
		u = &userSubs{wallets: make(map[common.Address]struct{})}
		s.data[chatID] = u
	}
	return u
}

func (s *Store) cleanupIfEmpty(chatID int64, u *userSubs) {
	if u == nil {
		return
	}
	if u.largeTxMinWei == nil && len(u.wallets) == 0 && !u.followBots {
		delete(s.data, chatID)
	}
}
