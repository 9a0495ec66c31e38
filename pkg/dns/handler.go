package dns

import (
	"context"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/config"
)

// 单次查询读取存储的超时时间
const lookupTimeout = 5 * time.Second

// Handler DNS请求处理器
type Handler struct {
	recordManager *RecordManager
	logger        config.Logger
}

// NewHandler 创建DNS请求处理器
func NewHandler(recordManager *RecordManager, logger config.Logger) *Handler {
	return &Handler{
		recordManager: recordManager,
		logger:        logger,
	}
}

// ServeDNS 处理DNS请求
func (h *Handler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)

	// 只处理标准查询
	if r.Opcode != dns.OpcodeQuery {
		m.Rcode = dns.RcodeNotImplemented
		h.write(w, m)
		return
	}

	if len(r.Question) == 0 {
		m.Rcode = dns.RcodeFormatError
		h.write(w, m)
		return
	}

	q := r.Question[0]
	name := strings.ToLower(q.Name)

	// 不转发其他域的查询
	if !h.recordManager.InZone(name) {
		m.Rcode = dns.RcodeRefused
		h.write(w, m)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	records, found, err := h.recordManager.GetRecords(ctx, name, q.Qtype)
	if err != nil {
		h.logger.Error("获取DNS记录失败", zap.String("name", name), zap.Error(err))
		m.Rcode = dns.RcodeServerFailure
		h.write(w, m)
		return
	}

	m.Authoritative = true
	if !found {
		m.Rcode = dns.RcodeNameError
		h.write(w, m)
		return
	}

	m.Answer = append(m.Answer, records...)
	h.write(w, m)
}

func (h *Handler) write(w dns.ResponseWriter, m *dns.Msg) {
	if err := w.WriteMsg(m); err != nil {
		h.logger.Warn("发送DNS响应失败", zap.Error(err))
	}
}
