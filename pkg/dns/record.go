package dns

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/miekg/dns"

	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// RecordManager 根据注册中心的当前状态生成DNS记录，每次查询都读取存储
type RecordManager struct {
	storage    storage.ServiceStorage
	domain     string
	defaultTTL uint32
}

// NewRecordManager 创建DNS记录管理器
func NewRecordManager(storage storage.ServiceStorage, domain string, ttl int) *RecordManager {
	if ttl < 0 {
		ttl = 0
	}
	return &RecordManager{
		storage:    storage,
		domain:     dns.Fqdn(strings.ToLower(domain)),
		defaultTTL: uint32(ttl),
	}
}

// Domain 返回管理的域（带末尾的点）
func (rm *RecordManager) Domain() string {
	return rm.domain
}

// InZone 判断域名是否属于管理的域
func (rm *RecordManager) InZone(name string) bool {
	return dns.IsSubDomain(rm.domain, dns.Fqdn(strings.ToLower(name)))
}

// GetRecords 获取指定域名和类型的DNS记录
// found为false表示域名下没有可用的服务，应返回NXDOMAIN
func (rm *RecordManager) GetRecords(ctx context.Context, name string, qtype uint16) (records []dns.RR, found bool, err error) {
	name = dns.Fqdn(strings.ToLower(name))

	serviceName, isSRV := extractServiceName(name, rm.domain)
	if serviceName == "" {
		return nil, false, nil
	}

	service, err := rm.storage.Get(ctx, serviceName)
	if err != nil {
		if storage.IsNotFound(err) || storage.IsInvalidArgument(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	// 不健康的服务对外不可见
	if service.Health == model.HealthStatusUnhealthy {
		return nil, false, nil
	}

	host := serviceHost(service.Address)
	ip := net.ParseIP(host)

	if isSRV {
		if qtype != dns.TypeSRV && qtype != dns.TypeANY {
			return nil, true, nil
		}
		target := rm.serviceDomain(service.Name)
		if ip == nil && host != "" {
			target = dns.Fqdn(host)
		}
		rr, err := createSRVRecord(name, target, service.Port, rm.defaultTTL)
		if err != nil {
			return nil, true, err
		}
		return []dns.RR{rr}, true, nil
	}

	switch {
	case ip == nil:
		// 地址不是IP字面量时无法生成地址记录
	case ip.To4() != nil && (qtype == dns.TypeA || qtype == dns.TypeANY):
		rr, err := createARecord(name, ip.String(), rm.defaultTTL)
		if err != nil {
			return nil, true, err
		}
		records = append(records, rr)
	case ip.To4() == nil && (qtype == dns.TypeAAAA || qtype == dns.TypeANY):
		rr, err := createAAAARecord(name, ip.String(), rm.defaultTTL)
		if err != nil {
			return nil, true, err
		}
		records = append(records, rr)
	}

	return records, true, nil
}

// serviceDomain 返回服务的A记录域名
func (rm *RecordManager) serviceDomain(serviceName string) string {
	return serviceName + "." + rm.domain
}

// extractServiceName 从域名中提取服务名称
// 支持 <name>.<domain> 和 _<name>._tcp.<domain> 两种形式
func extractServiceName(name, domain string) (serviceName string, isSRV bool) {
	if !dns.IsSubDomain(domain, name) || name == domain {
		return "", false
	}

	prefix := strings.TrimSuffix(name, "."+domain)
	labels := strings.Split(prefix, ".")

	if strings.HasPrefix(prefix, "_") {
		if len(labels) == 2 && labels[1] == "_tcp" {
			return strings.TrimPrefix(labels[0], "_"), true
		}
		return "", false
	}

	if len(labels) != 1 {
		return "", false
	}
	return labels[0], false
}

// serviceHost 从服务地址中解析主机部分
func serviceHost(address string) string {
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// createARecord 创建A记录
func createARecord(name, ip string, ttl uint32) (dns.RR, error) {
	return dns.NewRR(fmt.Sprintf("%s %d IN A %s", name, ttl, ip))
}

// createAAAARecord 创建AAAA记录
func createAAAARecord(name, ip string, ttl uint32) (dns.RR, error) {
	return dns.NewRR(fmt.Sprintf("%s %d IN AAAA %s", name, ttl, ip))
}

// createSRVRecord 创建SRV记录
func createSRVRecord(name, target string, port int, ttl uint32) (dns.RR, error) {
	return dns.NewRR(fmt.Sprintf("%s %d IN SRV 10 10 %d %s", name, ttl, port, target))
}
