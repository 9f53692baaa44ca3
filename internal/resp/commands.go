/*
Copyright (C) 2026  nodekv contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package resp

import (
	"strconv"
	"time"

	"github.com/nodekv/nodekv/internal/kernel"
	"github.com/nodekv/nodekv/internal/objects"
)

// NewDefaultDispatcher builds the command table spec §6's wire protocol
// and §4.6's object layer require, plus the supplemented administrative
// commands (PING/ECHO/HELLO/COMMAND/DBSIZE/FLUSHDB) SPEC_FULL.md's
// "Supplemented Features" section adds. INFO is not registered, so it
// gets the dispatcher's unknown-command error. One Dispatcher is shared across
// every Session (spec §9, "construct once ... pass as a struct").
func NewDefaultDispatcher() *Dispatcher {
	d := NewDispatcher()

	d.Register("PING", -1, cmdPing)
	d.Register("ECHO", 0, cmdEcho)
	d.Register("HELLO", -1, cmdHello)
	d.Register("COMMAND", -1, cmdCommand)
	d.Register("DBSIZE", -1, cmdDBSize)
	d.Register("FLUSHDB", -1, cmdFlushDB)

	d.Register("GET", 0, cmdGet)
	d.Register("SET", 0, cmdSet)
	d.Register("DEL", 0, cmdDel)
	d.Register("EXISTS", 0, cmdExists)
	d.Register("EXPIRE", 0, cmdExpire)
	d.Register("PEXPIRE", 0, cmdPExpire)
	d.Register("TTL", 0, cmdTTL)
	d.Register("PTTL", 0, cmdPTTL)
	d.Register("PERSIST", 0, cmdPersist)
	d.Register("INCR", 0, cmdIncr)
	d.Register("DECR", 0, cmdDecr)
	d.Register("INCRBY", 0, cmdIncrBy)
	d.Register("DECRBY", 0, cmdDecrBy)

	d.Register("LPUSH", 0, cmdLPush)
	d.Register("RPUSH", 0, cmdRPush)
	d.Register("LPOP", 0, cmdLPop)
	d.Register("RPOP", 0, cmdRPop)
	d.Register("LLEN", 0, cmdLLen)
	d.Register("LRANGE", 0, cmdLRange)
	d.Register("LINDEX", 0, cmdLIndex)
	d.Register("LSET", 0, cmdLSet)
	d.Register("LREM", 0, cmdLRem)
	d.Register("LINSERT", 0, cmdLInsert)

	d.Register("HSET", 0, cmdHSet)
	d.Register("HGET", 0, cmdHGet)
	d.Register("HDEL", 0, cmdHDel)
	d.Register("HEXISTS", 0, cmdHExists)
	d.Register("HLEN", 0, cmdHLen)
	d.Register("HGETALL", 0, cmdHGetAll)

	d.Register("SADD", 0, cmdSAdd)
	d.Register("SREM", 0, cmdSRem)
	d.Register("SISMEMBER", 0, cmdSIsMember)
	d.Register("SMEMBERS", 0, cmdSMembers)
	d.Register("SCARD", 0, cmdSCard)
	d.Register("SUNION", 0, cmdSUnion)
	d.Register("SINTER", 0, cmdSInter)
	d.Register("SDIFF", 0, cmdSDiff)

	d.Register("ZADD", 0, cmdZAdd)
	d.Register("ZSCORE", 0, cmdZScore)
	d.Register("ZCARD", 0, cmdZCard)
	d.Register("ZRANK", 0, cmdZRank)
	d.Register("ZREM", 0, cmdZRem)
	d.Register("ZRANGE", 0, cmdZRange)
	d.Register("ZRANGEBYSCORE", 0, cmdZRangeByScore)

	d.Register("GEOADD", 0, cmdGeoAdd)
	d.Register("GEODIST", 0, cmdGeoDist)
	d.Register("GEOHASH", 0, cmdGeoHash)

	d.Register("CLUSTER", -1, cmdCluster)

	return d
}

// --- administrative ---------------------------------------------------

func cmdPing(s *Session, args [][]byte) Value {
	if len(args) == 0 {
		return SimpleString("PONG")
	}
	return BulkString(args[0])
}

func cmdEcho(s *Session, args [][]byte) Value {
	if len(args) != 1 {
		return Errorf("wrong number of arguments for 'echo' command")
	}
	return BulkString(args[0])
}

func cmdHello(s *Session, args [][]byte) Value {
	return Array(
		BulkString([]byte("server")), BulkString([]byte("nodekv")),
		BulkString([]byte("proto")), Integer(2),
		BulkString([]byte("mode")), BulkString([]byte("standalone")),
		BulkString([]byte("role")), BulkString([]byte("master")),
	)
}

func cmdCommand(s *Session, args [][]byte) Value {
	return Array()
}

func cmdDBSize(s *Session, args [][]byte) Value {
	return Integer(s.Main.KeyCount() + int64(s.Objects.Len()))
}

func cmdFlushDB(s *Session, args [][]byte) Value {
	s.Main.Flush()
	s.Objects.Flush()
	return SimpleString("OK")
}

// --- raw KV (main store, spec §4.4) ------------------------------------

func (s *Session) readKey(key []byte) kernel.Output {
	out := s.Main.Read(key, s.tracker)
	if out.Status == kernel.Pending {
		results := s.tracker.CompletePending(true)
		out = results[len(results)-1]
	}
	return out
}

func (s *Session) upsertKey(key, value []byte) error {
	_, err := s.Main.Upsert(key, value)
	if err == nil && s.AOF != nil {
		err = s.AOF.AppendUpsertFrame(int64(s.Main.Version()), s.ID, false, key, value)
	}
	return err
}

func (s *Session) upsertKeyWithExpiry(key, value []byte, expireAt time.Time) error {
	_, err := s.Main.UpsertWithExpiry(key, value, expireAt)
	if err == nil && s.AOF != nil {
		err = s.AOF.AppendUpsertFrame(int64(s.Main.Version()), s.ID, false, key, value)
	}
	return err
}

func (s *Session) deleteKey(key []byte) (bool, error) {
	out, err := s.Main.Delete(key)
	if err != nil {
		return false, err
	}
	found := out.Status == kernel.Ok
	if found && s.AOF != nil {
		err = s.AOF.AppendDeleteFrame(int64(s.Main.Version()), s.ID, false, key)
	}
	return found, err
}

func cmdGet(s *Session, args [][]byte) Value {
	if len(args) != 1 {
		return Errorf("wrong number of arguments for 'get' command")
	}
	out := s.readKey(args[0])
	if out.Status != kernel.Found {
		return NullBulk()
	}
	return BulkString(out.Value)
}

func cmdSet(s *Session, args [][]byte) Value {
	if len(args) < 2 {
		return Errorf("wrong number of arguments for 'set' command")
	}
	key, value := args[0], args[1]
	if err := s.upsertKey(key, value); err != nil {
		return Errorf("%s", err.Error())
	}
	return SimpleString("OK")
}

func cmdDel(s *Session, args [][]byte) Value {
	if len(args) == 0 {
		return Errorf("wrong number of arguments for 'del' command")
	}
	var n int64
	for _, key := range args {
		found, err := s.deleteKey(key)
		if err != nil {
			return Errorf("%s", err.Error())
		}
		if found {
			n++
		}
	}
	return Integer(n)
}

func cmdExists(s *Session, args [][]byte) Value {
	if len(args) == 0 {
		return Errorf("wrong number of arguments for 'exists' command")
	}
	var n int64
	for _, key := range args {
		if s.readKey(key).Status == kernel.Found {
			n++
		}
	}
	return Integer(n)
}

func expireCommand(s *Session, args [][]byte, unit time.Duration) Value {
	if len(args) != 2 {
		return Errorf("wrong number of arguments for 'expire' command")
	}
	n, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return Errorf("value is not an integer or out of range")
	}
	out := s.readKey(args[0])
	if out.Status != kernel.Found {
		return Integer(0)
	}
	expireAt := time.Now().Add(time.Duration(n) * unit)
	if err := s.upsertKeyWithExpiry(args[0], out.Value, expireAt); err != nil {
		return Errorf("%s", err.Error())
	}
	return Integer(1)
}

func cmdExpire(s *Session, args [][]byte) Value  { return expireCommand(s, args, time.Second) }
func cmdPExpire(s *Session, args [][]byte) Value { return expireCommand(s, args, time.Millisecond) }

func ttlCommand(s *Session, args [][]byte, unit time.Duration) Value {
	if len(args) != 1 {
		return Errorf("wrong number of arguments for 'ttl' command")
	}
	out := s.readKey(args[0])
	if out.Status != kernel.Found {
		return Integer(-2)
	}
	if out.ExpireAt == 0 {
		return Integer(-1)
	}
	remaining := time.Until(time.Unix(0, int64(out.ExpireAt)))
	if remaining < 0 {
		return Integer(-2)
	}
	return Integer(int64(remaining / unit))
}

func cmdTTL(s *Session, args [][]byte) Value  { return ttlCommand(s, args, time.Second) }
func cmdPTTL(s *Session, args [][]byte) Value { return ttlCommand(s, args, time.Millisecond) }

func cmdPersist(s *Session, args [][]byte) Value {
	if len(args) != 1 {
		return Errorf("wrong number of arguments for 'persist' command")
	}
	out := s.readKey(args[0])
	if out.Status != kernel.Found || out.ExpireAt == 0 {
		return Integer(0)
	}
	if err := s.upsertKey(args[0], out.Value); err != nil {
		return Errorf("%s", err.Error())
	}
	return Integer(1)
}

// incrByCommand goes through Kernel.RMW rather than a readKey+upsertKey
// pair: the two-call shape reads and writes as independent kernel
// operations with nothing serializing them, so two concurrent INCRs on
// the same key can both read the same prior value and both write
// prior+delta, losing one of the increments. RMW holds its per-key lock
// across the whole read-modify-write, closing that race.
func incrByCommand(s *Session, key []byte, delta int64) Value {
	var n int64
	var parseErr error
	update := func(current []byte, found bool) (next []byte, deleteIt bool) {
		n = 0
		if found {
			parsed, err := strconv.ParseInt(string(current), 10, 64)
			if err != nil {
				parseErr = err
				return current, false
			}
			n = parsed
		}
		n += delta
		return []byte(strconv.FormatInt(n, 10)), false
	}

	out := s.Main.RMW(key, update, s.tracker)
	if out.Status == kernel.Pending {
		results := s.tracker.CompletePending(true)
		out = s.Main.RMWResume(key, results[len(results)-1], update)
	}
	if parseErr != nil {
		return Errorf("value is not an integer or out of range")
	}
	if out.Err != nil {
		return Errorf("%s", out.Err.Error())
	}
	if s.AOF != nil {
		if err := s.AOF.AppendUpsertFrame(int64(s.Main.Version()), s.ID, false, key, out.Value); err != nil {
			return Errorf("%s", err.Error())
		}
	}
	return Integer(n)
}

func cmdIncr(s *Session, args [][]byte) Value {
	if len(args) != 1 {
		return Errorf("wrong number of arguments for 'incr' command")
	}
	return incrByCommand(s, args[0], 1)
}

func cmdDecr(s *Session, args [][]byte) Value {
	if len(args) != 1 {
		return Errorf("wrong number of arguments for 'decr' command")
	}
	return incrByCommand(s, args[0], -1)
}

func cmdIncrBy(s *Session, args [][]byte) Value {
	if len(args) != 2 {
		return Errorf("wrong number of arguments for 'incrby' command")
	}
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return Errorf("value is not an integer or out of range")
	}
	return incrByCommand(s, args[0], delta)
}

func cmdDecrBy(s *Session, args [][]byte) Value {
	if len(args) != 2 {
		return Errorf("wrong number of arguments for 'decrby' command")
	}
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return Errorf("value is not an integer or out of range")
	}
	return incrByCommand(s, args[0], -delta)
}

// --- object layer (spec §4.6) -------------------------------------------

func (s *Session) list(key []byte) (*objects.List, error) {
	v := s.Objects.GetOrCreate(string(key), func() objects.Value { return objects.NewList() })
	l, ok := v.(*objects.List)
	if !ok {
		return nil, objects.ErrWrongType{Want: objects.KindList, Got: v.Kind()}
	}
	return l, nil
}

func (s *Session) hash(key []byte) (*objects.Hash, error) {
	v := s.Objects.GetOrCreate(string(key), func() objects.Value { return objects.NewHash() })
	h, ok := v.(*objects.Hash)
	if !ok {
		return nil, objects.ErrWrongType{Want: objects.KindHash, Got: v.Kind()}
	}
	return h, nil
}

func (s *Session) set(key []byte) (*objects.Set, error) {
	v := s.Objects.GetOrCreate(string(key), func() objects.Value { return objects.NewSet() })
	set, ok := v.(*objects.Set)
	if !ok {
		return nil, objects.ErrWrongType{Want: objects.KindSet, Got: v.Kind()}
	}
	return set, nil
}

func (s *Session) zset(key []byte) (*objects.SortedSet, error) {
	v := s.Objects.GetOrCreate(string(key), func() objects.Value { return objects.NewSortedSet() })
	z, ok := v.(*objects.SortedSet)
	if !ok {
		return nil, objects.ErrWrongType{Want: objects.KindSortedSet, Got: v.Kind()}
	}
	return z, nil
}

func cmdLPush(s *Session, args [][]byte) Value {
	if len(args) < 2 {
		return Errorf("wrong number of arguments for 'lpush' command")
	}
	l, err := s.list(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	return Integer(int64(l.PushLeft(args[1:]...)))
}

func cmdRPush(s *Session, args [][]byte) Value {
	if len(args) < 2 {
		return Errorf("wrong number of arguments for 'rpush' command")
	}
	l, err := s.list(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	return Integer(int64(l.PushRight(args[1:]...)))
}

func cmdLPop(s *Session, args [][]byte) Value {
	if len(args) != 1 {
		return Errorf("wrong number of arguments for 'lpop' command")
	}
	l, err := s.list(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	v, ok := l.PopLeft()
	if !ok {
		return NullBulk()
	}
	return BulkString(v)
}

func cmdRPop(s *Session, args [][]byte) Value {
	if len(args) != 1 {
		return Errorf("wrong number of arguments for 'rpop' command")
	}
	l, err := s.list(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	v, ok := l.PopRight()
	if !ok {
		return NullBulk()
	}
	return BulkString(v)
}

func cmdLLen(s *Session, args [][]byte) Value {
	if len(args) != 1 {
		return Errorf("wrong number of arguments for 'llen' command")
	}
	l, err := s.list(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	return Integer(int64(l.Len()))
}

func parseIndexArg(b []byte) (int, error) { return strconv.Atoi(string(b)) }

func cmdLRange(s *Session, args [][]byte) Value {
	if len(args) != 3 {
		return Errorf("wrong number of arguments for 'lrange' command")
	}
	start, err1 := parseIndexArg(args[1])
	stop, err2 := parseIndexArg(args[2])
	if err1 != nil || err2 != nil {
		return Errorf("value is not an integer or out of range")
	}
	l, err := s.list(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	out := make([]Value, 0)
	for _, v := range l.Range(start, stop) {
		out = append(out, BulkString(v))
	}
	return Array(out...)
}

func cmdLIndex(s *Session, args [][]byte) Value {
	if len(args) != 2 {
		return Errorf("wrong number of arguments for 'lindex' command")
	}
	idx, err := parseIndexArg(args[1])
	if err != nil {
		return Errorf("value is not an integer or out of range")
	}
	l, lerr := s.list(args[0])
	if lerr != nil {
		return ErrorReply(lerr.Error())
	}
	v, ok := l.Index(idx)
	if !ok {
		return NullBulk()
	}
	return BulkString(v)
}

func cmdLSet(s *Session, args [][]byte) Value {
	if len(args) != 3 {
		return Errorf("wrong number of arguments for 'lset' command")
	}
	idx, err := parseIndexArg(args[1])
	if err != nil {
		return Errorf("value is not an integer or out of range")
	}
	l, lerr := s.list(args[0])
	if lerr != nil {
		return ErrorReply(lerr.Error())
	}
	if !l.SetIndex(idx, args[2]) {
		return Errorf("index out of range")
	}
	return SimpleString("OK")
}

func cmdLRem(s *Session, args [][]byte) Value {
	if len(args) != 3 {
		return Errorf("wrong number of arguments for 'lrem' command")
	}
	count, err := parseIndexArg(args[1])
	if err != nil {
		return Errorf("value is not an integer or out of range")
	}
	l, lerr := s.list(args[0])
	if lerr != nil {
		return ErrorReply(lerr.Error())
	}
	return Integer(int64(l.RemoveByValue(args[2], count)))
}

func cmdLInsert(s *Session, args [][]byte) Value {
	if len(args) != 4 {
		return Errorf("wrong number of arguments for 'linsert' command")
	}
	l, err := s.list(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	var ok bool
	switch string(bytesToUpper(args[1])) {
	case "BEFORE":
		ok = l.InsertBefore(args[2], args[3])
	case "AFTER":
		ok = l.InsertAfter(args[2], args[3])
	default:
		return Errorf("syntax error")
	}
	if !ok {
		return Integer(-1)
	}
	return Integer(int64(l.Len()))
}

func bytesToUpper(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

func cmdHSet(s *Session, args [][]byte) Value {
	if len(args) < 3 || len(args)%2 != 1 {
		return Errorf("wrong number of arguments for 'hset' command")
	}
	h, err := s.hash(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	var created int64
	for i := 1; i < len(args); i += 2 {
		if h.Set(string(args[i]), args[i+1]) {
			created++
		}
	}
	return Integer(created)
}

func cmdHGet(s *Session, args [][]byte) Value {
	if len(args) != 2 {
		return Errorf("wrong number of arguments for 'hget' command")
	}
	h, err := s.hash(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	v, ok := h.Get(string(args[1]))
	if !ok {
		return NullBulk()
	}
	return BulkString(v)
}

func cmdHDel(s *Session, args [][]byte) Value {
	if len(args) < 2 {
		return Errorf("wrong number of arguments for 'hdel' command")
	}
	h, err := s.hash(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	var n int64
	for _, f := range args[1:] {
		if h.Delete(string(f)) {
			n++
		}
	}
	return Integer(n)
}

func cmdHExists(s *Session, args [][]byte) Value {
	if len(args) != 2 {
		return Errorf("wrong number of arguments for 'hexists' command")
	}
	h, err := s.hash(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	if _, ok := h.Get(string(args[1])); ok {
		return Integer(1)
	}
	return Integer(0)
}

func cmdHLen(s *Session, args [][]byte) Value {
	if len(args) != 1 {
		return Errorf("wrong number of arguments for 'hlen' command")
	}
	h, err := s.hash(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	return Integer(int64(h.Len()))
}

func cmdHGetAll(s *Session, args [][]byte) Value {
	if len(args) != 1 {
		return Errorf("wrong number of arguments for 'hgetall' command")
	}
	h, err := s.hash(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	out := make([]Value, 0)
	for field, v := range h.Fields() {
		out = append(out, BulkString([]byte(field)), BulkString(v))
	}
	return Array(out...)
}

func cmdSAdd(s *Session, args [][]byte) Value {
	if len(args) < 2 {
		return Errorf("wrong number of arguments for 'sadd' command")
	}
	set, err := s.set(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	var n int64
	for _, m := range args[1:] {
		if set.Add(string(m)) {
			n++
		}
	}
	return Integer(n)
}

func cmdSRem(s *Session, args [][]byte) Value {
	if len(args) < 2 {
		return Errorf("wrong number of arguments for 'srem' command")
	}
	set, err := s.set(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	var n int64
	for _, m := range args[1:] {
		if set.Remove(string(m)) {
			n++
		}
	}
	return Integer(n)
}

func cmdSIsMember(s *Session, args [][]byte) Value {
	if len(args) != 2 {
		return Errorf("wrong number of arguments for 'sismember' command")
	}
	set, err := s.set(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	if set.Contains(string(args[1])) {
		return Integer(1)
	}
	return Integer(0)
}

func cmdSMembers(s *Session, args [][]byte) Value {
	if len(args) != 1 {
		return Errorf("wrong number of arguments for 'smembers' command")
	}
	set, err := s.set(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	return stringsToBulkArray(set.Members())
}

func (s *Session) setsOf(keys [][]byte) ([]*objects.Set, error) {
	sets := make([]*objects.Set, len(keys))
	for i, k := range keys {
		set, err := s.set(k)
		if err != nil {
			return nil, err
		}
		sets[i] = set
	}
	return sets, nil
}

func cmdSUnion(s *Session, args [][]byte) Value {
	if len(args) < 1 {
		return Errorf("wrong number of arguments for 'sunion' command")
	}
	sets, err := s.setsOf(args)
	if err != nil {
		return ErrorReply(err.Error())
	}
	return stringsToBulkArray(objects.Union(sets...))
}

func cmdSInter(s *Session, args [][]byte) Value {
	if len(args) < 1 {
		return Errorf("wrong number of arguments for 'sinter' command")
	}
	sets, err := s.setsOf(args)
	if err != nil {
		return ErrorReply(err.Error())
	}
	return stringsToBulkArray(objects.Intersect(sets...))
}

func cmdSDiff(s *Session, args [][]byte) Value {
	if len(args) < 1 {
		return Errorf("wrong number of arguments for 'sdiff' command")
	}
	sets, err := s.setsOf(args)
	if err != nil {
		return ErrorReply(err.Error())
	}
	return stringsToBulkArray(objects.Diff(sets[0], sets[1:]...))
}

func cmdSCard(s *Session, args [][]byte) Value {
	if len(args) != 1 {
		return Errorf("wrong number of arguments for 'scard' command")
	}
	set, err := s.set(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	return Integer(int64(set.Len()))
}

func stringsToBulkArray(ss []string) Value {
	out := make([]Value, len(ss))
	for i, v := range ss {
		out[i] = BulkString([]byte(v))
	}
	return Array(out...)
}

func cmdZAdd(s *Session, args [][]byte) Value {
	if len(args) < 3 {
		return Errorf("wrong number of arguments for 'zadd' command")
	}
	z, err := s.zset(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	rest := args[1:]
	var flags objects.AddFlags
	for len(rest) > 0 {
		switch string(bytesToUpper(rest[0])) {
		case "NX":
			flags.NX = true
		case "XX":
			flags.XX = true
		case "GT":
			flags.GT = true
		case "LT":
			flags.LT = true
		case "CH":
			flags.CH = true
		default:
			goto pairs
		}
		rest = rest[1:]
	}
pairs:
	if len(rest)%2 != 0 || len(rest) == 0 {
		return Errorf("syntax error")
	}
	var added, changed int
	for i := 0; i < len(rest); i += 2 {
		score, err := strconv.ParseFloat(string(rest[i]), 64)
		if err != nil {
			return Errorf("value is not a valid float")
		}
		a, c := z.Add(string(rest[i+1]), score, flags)
		added += a
		changed += c
	}
	if flags.CH {
		return Integer(int64(changed))
	}
	return Integer(int64(added))
}

func cmdZScore(s *Session, args [][]byte) Value {
	if len(args) != 2 {
		return Errorf("wrong number of arguments for 'zscore' command")
	}
	z, err := s.zset(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	score, ok := z.Score(string(args[1]))
	if !ok {
		return NullBulk()
	}
	return BulkString([]byte(strconv.FormatFloat(score, 'g', -1, 64)))
}

func cmdZCard(s *Session, args [][]byte) Value {
	if len(args) != 1 {
		return Errorf("wrong number of arguments for 'zcard' command")
	}
	z, err := s.zset(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	return Integer(int64(z.Len()))
}

func cmdZRank(s *Session, args [][]byte) Value {
	if len(args) != 2 {
		return Errorf("wrong number of arguments for 'zrank' command")
	}
	z, err := s.zset(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	rank, ok := z.Rank(string(args[1]))
	if !ok {
		return NullBulk()
	}
	return Integer(int64(rank))
}

func cmdZRem(s *Session, args [][]byte) Value {
	if len(args) < 2 {
		return Errorf("wrong number of arguments for 'zrem' command")
	}
	z, err := s.zset(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	var n int64
	for _, m := range args[1:] {
		if z.Remove(string(m)) {
			n++
		}
	}
	return Integer(n)
}

func cmdZRange(s *Session, args [][]byte) Value {
	if len(args) != 3 {
		return Errorf("wrong number of arguments for 'zrange' command")
	}
	start, err1 := parseIndexArg(args[1])
	stop, err2 := parseIndexArg(args[2])
	if err1 != nil || err2 != nil {
		return Errorf("value is not an integer or out of range")
	}
	z, err := s.zset(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	out := make([]Value, 0)
	for _, it := range z.RangeByRank(start, stop) {
		out = append(out, BulkString([]byte(it.Member())))
	}
	return Array(out...)
}

func cmdZRangeByScore(s *Session, args [][]byte) Value {
	if len(args) != 3 {
		return Errorf("wrong number of arguments for 'zrangebyscore' command")
	}
	min, err1 := strconv.ParseFloat(string(args[1]), 64)
	max, err2 := strconv.ParseFloat(string(args[2]), 64)
	if err1 != nil || err2 != nil {
		return Errorf("min or max is not a float")
	}
	z, err := s.zset(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	out := make([]Value, 0)
	for _, it := range z.RangeByScore(min, max) {
		out = append(out, BulkString([]byte(it.Member())))
	}
	return Array(out...)
}

func cmdGeoAdd(s *Session, args [][]byte) Value {
	if len(args) < 4 || (len(args)-1)%3 != 0 {
		return Errorf("wrong number of arguments for 'geoadd' command")
	}
	v := s.Objects.GetOrCreate(string(args[0]), func() objects.Value { return objects.NewGeo() })
	g, ok := v.(*objects.Geo)
	if !ok {
		return ErrorReply(objects.ErrWrongType{Want: objects.KindSortedSet, Got: v.Kind()}.Error())
	}
	var added int64
	for i := 1; i < len(args); i += 3 {
		lon, err1 := strconv.ParseFloat(string(args[i]), 64)
		lat, err2 := strconv.ParseFloat(string(args[i+1]), 64)
		if err1 != nil || err2 != nil {
			return Errorf("value is not a valid float")
		}
		score := objects.GeoEncode(lon, lat)
		if score == -1 {
			return Errorf("invalid longitude,latitude pair")
		}
		a, _ := g.Add(string(args[i+2]), score, objects.AddFlags{})
		added += int64(a)
	}
	return Integer(added)
}

func (s *Session) geo(key []byte) (*objects.Geo, error) {
	v := s.Objects.GetOrCreate(string(key), func() objects.Value { return objects.NewGeo() })
	g, ok := v.(*objects.Geo)
	if !ok {
		return nil, objects.ErrWrongType{Want: objects.KindSortedSet, Got: v.Kind()}
	}
	return g, nil
}

var geoUnitMeters = map[string]float64{
	"m": 1, "km": 1000, "mi": 1609.34, "ft": 0.3048,
}

func cmdGeoDist(s *Session, args [][]byte) Value {
	if len(args) < 3 || len(args) > 4 {
		return Errorf("wrong number of arguments for 'geodist' command")
	}
	g, err := s.geo(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	s1, ok1 := g.Score(string(args[1]))
	s2, ok2 := g.Score(string(args[2]))
	if !ok1 || !ok2 {
		return NullBulk()
	}
	unit := "m"
	if len(args) == 4 {
		unit = string(args[3])
	}
	scale, ok := geoUnitMeters[unit]
	if !ok {
		return Errorf("unsupported unit provided. please use m, km, ft, mi")
	}
	lon1, lat1 := objects.GeoDecode(s1)
	lon2, lat2 := objects.GeoDecode(s2)
	dist := objects.HaversineMeters(lon1, lat1, lon2, lat2) / scale
	return BulkString([]byte(strconv.FormatFloat(dist, 'f', 4, 64)))
}

func cmdGeoHash(s *Session, args [][]byte) Value {
	if len(args) < 2 {
		return Errorf("wrong number of arguments for 'geohash' command")
	}
	g, err := s.geo(args[0])
	if err != nil {
		return ErrorReply(err.Error())
	}
	out := make([]Value, len(args)-1)
	for i, m := range args[1:] {
		score, ok := g.Score(string(m))
		if !ok {
			out[i] = NullBulk()
			continue
		}
		out[i] = BulkString([]byte(objects.GeoHashString(score)))
	}
	return Array(out...)
}

// GEOSEARCH by radius is explicitly out of scope per spec §4.6
// ("by-radius is out of scope — emit `unknown command` if requested");
// only the box test (objects.WithinBox) exists, and no RESP verb calls
// it, since Redis's own GEOSEARCH syntax is radius- or
// box-based and box mode needs more argument surface than this pass
// covers. GEORADIUS therefore isn't registered at all, which already
// yields "unknown command" from the dispatcher.

func cmdCluster(s *Session, args [][]byte) Value {
	if len(args) == 0 {
		return Errorf("wrong number of arguments for 'cluster' command")
	}
	switch string(bytesToUpper(args[0])) {
	case "INFO":
		enabled := "cluster_enabled:0"
		if s.Router != nil {
			enabled = "cluster_enabled:1"
		}
		return BulkString([]byte(enabled + "\r\n"))
	case "KEYSLOT":
		if len(args) != 2 {
			return Errorf("wrong number of arguments for 'cluster|keyslot' command")
		}
		return Integer(int64(ClusterKeySlot(args[1])))
	case "GOSSIP":
		return cmdClusterGossip(s, args[1:])
	case "FAILSTOPWRITES":
		if s.Admin == nil {
			return Errorf("cluster support not enabled")
		}
		if len(args) != 2 {
			return Errorf("wrong number of arguments for 'cluster|failstopwrites' command")
		}
		offset, err := s.Admin.HandleFailStopWrites(string(args[1]))
		if err != nil {
			return Errorf("%s", err.Error())
		}
		return Integer(int64(offset))
	case "FAILAUTHREQ":
		if s.Admin == nil {
			return Errorf("cluster support not enabled")
		}
		if len(args) != 4 {
			return Errorf("wrong number of arguments for 'cluster|failauthreq' command")
		}
		epoch, err := strconv.ParseUint(string(args[2]), 10, 64)
		if err != nil {
			return Errorf("invalid epoch: %s", err.Error())
		}
		granted, err := s.Admin.HandleFailAuthReq(string(args[1]), epoch, args[3])
		if err != nil {
			return Errorf("%s", err.Error())
		}
		if granted {
			return Integer(1)
		}
		return Integer(0)
	case "FAILREPLICATIONOFFSET":
		if s.Admin == nil {
			return Errorf("cluster support not enabled")
		}
		if len(args) != 2 {
			return Errorf("wrong number of arguments for 'cluster|failreplicationoffset' command")
		}
		offset, err := strconv.ParseUint(string(args[1]), 10, 64)
		if err != nil {
			return Errorf("invalid offset: %s", err.Error())
		}
		if err := s.Admin.HandleFailReplicationOffset(offset); err != nil {
			return Errorf("%s", err.Error())
		}
		return SimpleString("OK")
	default:
		return Errorf("unknown CLUSTER subcommand '%s'", args[0])
	}
}

// cmdClusterGossip handles both CLUSTER GOSSIP <config-bytes> and
// CLUSTER GOSSIP WITHMEET <config-bytes> (rest is args[1:] from
// cmdCluster, i.e. everything after the GOSSIP token itself).
func cmdClusterGossip(s *Session, rest [][]byte) Value {
	if s.Admin == nil {
		return Errorf("cluster support not enabled")
	}
	withMeet := false
	if len(rest) == 2 && string(bytesToUpper(rest[0])) == "WITHMEET" {
		withMeet = true
		rest = rest[1:]
	}
	if len(rest) != 1 {
		return Errorf("wrong number of arguments for 'cluster|gossip' command")
	}
	if err := s.Admin.HandleGossip(rest[0], withMeet); err != nil {
		return Errorf("%s", err.Error())
	}
	return SimpleString("OK")
}
