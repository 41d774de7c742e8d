package raft

import (
	"go.uber.org/zap"

	"github.com/ulysseses/raftlog/pb"
)

// MsgApp
func buildApp(
	term, from, to uint64,
	index, logTerm, commit uint64,
	entries []pb.Entry,
) pb.Message {
	var ptrs []*pb.Entry
	if len(entries) > 0 {
		ptrs = make([]*pb.Entry, len(entries))
		for i := range entries {
			ptrs[i] = &entries[i]
		}
	}
	return pb.Message{
		Term:    term,
		From:    from,
		To:      to,
		Type:    pb.MsgApp,
		Commit:  commit,
		Entries: ptrs,
		Index:   index,
		LogTerm: logTerm,
	}
}

// buildAppRead builds a heartbeat that confirms leadership for the read identified by tid.
func buildAppRead(
	term, from, to uint64,
	commit uint64, tid int64,
) pb.Message {
	return pb.Message{
		Term:   term,
		From:   from,
		To:     to,
		Type:   pb.MsgApp,
		Commit: commit,
		Tid:    tid,
		Proxy:  from,
	}
}

type msgApp struct {
	term, from, to         uint64
	index, logTerm, commit uint64
	entries                []pb.Entry
	tid                    int64
	proxy                  uint64
}

func getApp(msg pb.Message) msgApp {
	var entries []pb.Entry
	if len(msg.Entries) > 0 {
		entries = make([]pb.Entry, len(msg.Entries))
		for i, e := range msg.Entries {
			entries[i] = *e
		}
	}
	return msgApp{
		term:    msg.Term,
		from:    msg.From,
		to:      msg.To,
		commit:  msg.Commit,
		index:   msg.Index,
		logTerm: msg.LogTerm,
		entries: entries,
		tid:     msg.Tid,
		proxy:   msg.Proxy,
	}
}

// MsgAppResp
func buildAppResp(
	term, from, to uint64,
	index uint64, success bool,
) pb.Message {
	return pb.Message{
		Term:    term,
		From:    from,
		To:      to,
		Type:    pb.MsgAppResp,
		Index:   index,
		Success: success,
	}
}

func buildAppRespRead(
	term, from, to uint64,
	tid int64, proxy uint64,
) pb.Message {
	return pb.Message{
		Term:    term,
		From:    from,
		To:      to,
		Type:    pb.MsgAppResp,
		Tid:     tid,
		Proxy:   proxy,
		Success: true,
	}
}

type msgAppResp struct {
	term    uint64
	from    uint64
	to      uint64
	index   uint64
	tid     int64
	proxy   uint64
	success bool
}

func getAppResp(msg pb.Message) msgAppResp {
	return msgAppResp{
		term:    msg.Term,
		from:    msg.From,
		to:      msg.To,
		index:   msg.Index,
		tid:     msg.Tid,
		proxy:   msg.Proxy,
		success: msg.Success,
	}
}

// MsgVote
func buildVote(term, from, to uint64, index, logTerm uint64) pb.Message {
	return pb.Message{
		Term:    term,
		From:    from,
		To:      to,
		Type:    pb.MsgVote,
		Index:   index,
		LogTerm: logTerm,
	}
}

type msgVote struct {
	term    uint64
	from    uint64
	to      uint64
	index   uint64
	logTerm uint64
}

func getVote(msg pb.Message) msgVote {
	return msgVote{
		term:    msg.Term,
		from:    msg.From,
		to:      msg.To,
		index:   msg.Index,
		logTerm: msg.LogTerm,
	}
}

// MsgVoteResp
func buildVoteResp(term, from, to uint64, granted bool) pb.Message {
	return pb.Message{
		Term:    term,
		From:    from,
		To:      to,
		Type:    pb.MsgVoteResp,
		Success: granted,
	}
}

type msgVoteResp struct {
	term    uint64
	from    uint64
	to      uint64
	granted bool
}

func getVoteResp(msg pb.Message) msgVoteResp {
	return msgVoteResp{
		term:    msg.Term,
		from:    msg.From,
		to:      msg.To,
		granted: msg.Success,
	}
}

func msgZapFields(msg pb.Message) []zap.Field {
	return []zap.Field{
		zap.String("type", msg.Type.String()),
		zap.Uint64("term", msg.Term),
		zap.Uint64("from", msg.From),
		zap.Uint64("to", msg.To),
		zap.Uint64("index", msg.Index),
		zap.Uint64("logTerm", msg.LogTerm),
		zap.Uint64("commit", msg.Commit),
		zap.Int("entries", len(msg.Entries)),
		zap.Int64("tid", msg.Tid),
		zap.Bool("success", msg.Success),
	}
}
