package relay

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Role of a chat in the routing topology.
type Role int

const (
	RoleNone Role = iota
	RoleGroupA      // demand side, originates numeric requests
	RoleGroupB      // supply side, receives forwarded requests
	RoleGroupC      // fleet, used by the accounting subsystem only
)

func (r Role) String() string {
	switch r {
	case RoleGroupA:
		return "group_a"
	case RoleGroupB:
		return "group_b"
	case RoleGroupC:
		return "group_c"
	}
	return "none"
}

const (
	keyGroupA       = "group_a_ids"
	keyGroupB       = "group_b_ids"
	keyGroupC       = "group_c_ids"
	keyGroupAdmins  = "group_admins"
	keyGlobalAdmins = "global_admins"
	keyGroupNames   = "group_names"
)

// Roles holds chat role membership, per-chat admin lists and the global
// admin set. All mutations write through to the store.
type Roles struct {
	mu           sync.RWMutex
	groupA       map[int64]struct{}
	groupB       map[int64]struct{}
	groupC       map[int64]struct{}
	groupAdmins  map[int64]map[int64]struct{}
	globalAdmins map[int64]struct{}
	names        map[int64]string
	store        StateStore
}

func NewRoles(st StateStore, bootstrapAdmins []int64) (*Roles, error) {
	r := &Roles{
		groupA:       map[int64]struct{}{},
		groupB:       map[int64]struct{}{},
		groupC:       map[int64]struct{}{},
		groupAdmins:  map[int64]map[int64]struct{}{},
		globalAdmins: map[int64]struct{}{},
		names:        map[int64]string{},
		store:        st,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	for _, id := range bootstrapAdmins {
		r.globalAdmins[id] = struct{}{}
	}
	return r, nil
}

func (r *Roles) load() error {
	loadSet := func(key string, into map[int64]struct{}) error {
		var ids []string
		if _, err := r.store.Load(key, &ids); err != nil {
			return err
		}
		for _, s := range ids {
			if id, ok := parseIDKey(s); ok {
				into[id] = struct{}{}
			}
		}
		return nil
	}
	if err := loadSet(keyGroupA, r.groupA); err != nil {
		return err
	}
	if err := loadSet(keyGroupB, r.groupB); err != nil {
		return err
	}
	if err := loadSet(keyGroupC, r.groupC); err != nil {
		return err
	}
	if err := loadSet(keyGlobalAdmins, r.globalAdmins); err != nil {
		return err
	}

	var admins map[string][]string
	if _, err := r.store.Load(keyGroupAdmins, &admins); err != nil {
		return err
	}
	for chatKey, users := range admins {
		chatID, ok := parseIDKey(chatKey)
		if !ok {
			continue
		}
		set := map[int64]struct{}{}
		for _, u := range users {
			if id, ok := parseIDKey(u); ok {
				set[id] = struct{}{}
			}
		}
		r.groupAdmins[chatID] = set
	}

	var names map[string]string
	if _, err := r.store.Load(keyGroupNames, &names); err != nil {
		return err
	}
	for k, v := range names {
		if id, ok := parseIDKey(k); ok {
			r.names[id] = v
		}
	}
	return nil
}

func (r *Roles) persistSet(key string, set map[int64]struct{}) {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, idKey(id))
	}
	if err := r.store.Save(key, ids); err != nil {
		zap.L().Error("persist role set failed", zap.String("key", key), zap.Error(err))
	}
}

// SetRole assigns a chat to a role, removing it from any previous role.
// Roles are mutually exclusive per chat.
func (r *Roles) SetRole(chatID int64, role Role, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.groupA, chatID)
	delete(r.groupB, chatID)
	delete(r.groupC, chatID)
	switch role {
	case RoleGroupA:
		r.groupA[chatID] = struct{}{}
	case RoleGroupB:
		r.groupB[chatID] = struct{}{}
	case RoleGroupC:
		r.groupC[chatID] = struct{}{}
	}
	if title != "" {
		r.names[chatID] = title
		r.persistNames()
	}
	r.persistSet(keyGroupA, r.groupA)
	r.persistSet(keyGroupB, r.groupB)
	r.persistSet(keyGroupC, r.groupC)
}

// ClearRole removes the chat from whatever role it holds. Returns the role
// it had.
func (r *Roles) ClearRole(chatID int64) Role {
	r.mu.Lock()
	defer r.mu.Unlock()

	role := RoleNone
	if _, ok := r.groupA[chatID]; ok {
		role = RoleGroupA
		delete(r.groupA, chatID)
		r.persistSet(keyGroupA, r.groupA)
	} else if _, ok := r.groupB[chatID]; ok {
		role = RoleGroupB
		delete(r.groupB, chatID)
		r.persistSet(keyGroupB, r.groupB)
	} else if _, ok := r.groupC[chatID]; ok {
		role = RoleGroupC
		delete(r.groupC, chatID)
		r.persistSet(keyGroupC, r.groupC)
	}
	return role
}

func (r *Roles) RoleOf(chatID int64) Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.groupA[chatID]; ok {
		return RoleGroupA
	}
	if _, ok := r.groupB[chatID]; ok {
		return RoleGroupB
	}
	if _, ok := r.groupC[chatID]; ok {
		return RoleGroupC
	}
	return RoleNone
}

func (r *Roles) IsGroupA(chatID int64) bool { return r.RoleOf(chatID) == RoleGroupA }
func (r *Roles) IsGroupB(chatID int64) bool { return r.RoleOf(chatID) == RoleGroupB }
func (r *Roles) IsGroupC(chatID int64) bool { return r.RoleOf(chatID) == RoleGroupC }

// GroupBChats returns the supply-side chat IDs in stable sorted order.
func (r *Roles) GroupBChats() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedIDs(r.groupB)
}

func (r *Roles) GroupAChats() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedIDs(r.groupA)
}

func (r *Roles) IsGlobalAdmin(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.globalAdmins[userID]
	return ok
}

func (r *Roles) GlobalAdmins() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedIDs(r.globalAdmins)
}

// AddGlobalAdmin registers a user as a global admin.
func (r *Roles) AddGlobalAdmin(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globalAdmins[userID] = struct{}{}
	r.persistSet(keyGlobalAdmins, r.globalAdmins)
}

func (r *Roles) IsGroupAdmin(userID, chatID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.groupAdmins[chatID]
	if !ok {
		return false
	}
	_, ok = set[userID]
	return ok
}

// AddGroupAdmin promotes a user to operator of one chat.
func (r *Roles) AddGroupAdmin(userID, chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.groupAdmins[chatID] == nil {
		r.groupAdmins[chatID] = map[int64]struct{}{}
	}
	r.groupAdmins[chatID][userID] = struct{}{}

	admins := map[string][]string{}
	for chat, users := range r.groupAdmins {
		list := make([]string, 0, len(users))
		for u := range users {
			list = append(list, idKey(u))
		}
		admins[idKey(chat)] = list
	}
	if err := r.store.Save(keyGroupAdmins, admins); err != nil {
		zap.L().Error("persist group admins failed", zap.Error(err))
	}
}

// SetName remembers a chat's display title.
func (r *Roles) SetName(chatID int64, title string) {
	if title == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[chatID] = title
	r.persistNames()
}

func (r *Roles) Name(chatID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.names[chatID]
	return n, ok
}

func (r *Roles) persistNames() {
	names := map[string]string{}
	for id, n := range r.names {
		names[idKey(id)] = n
	}
	if err := r.store.Save(keyGroupNames, names); err != nil {
		zap.L().Error("persist group names failed", zap.Error(err))
	}
}

func sortedIDs(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
