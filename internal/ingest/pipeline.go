package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"barid/backend/internal/config"
	"barid/backend/internal/content"
	"barid/backend/internal/domain"
	"barid/backend/internal/idgen"
	"barid/backend/internal/monitoring"
	"barid/backend/internal/parser"
	"barid/backend/internal/pool"
	"barid/backend/internal/schema"
	"barid/backend/internal/security"
)

// 入库失败的分类，均可用 errors.Is 判断
var (
	ErrParse   = errors.New("ingest: parse failed")
	ErrSchema  = errors.New("ingest: record failed validation")
	ErrPersist = errors.New("ingest: message could not be stored")
)

const defaultConcurrency = 4

// MIMEParser 原始邮件解析器
type MIMEParser interface {
	Parse(raw []byte) (*parser.Parsed, error)
}

// IDGenerator 邮件和附件标识生成器
type IDGenerator interface {
	MessageID() string
	AttachmentID() string
}

// Deps 流水线依赖的协作者
//
// Records 与 Objects 必填；Counters、Tasks、Listeners、Metrics 可选。
type Deps struct {
	Parser     MIMEParser
	Normalizer *content.Normalizer
	Validator  *security.AttachmentValidator
	Schema     *schema.Validator
	Records    domain.RecordStore
	Objects    domain.ObjectStore
	Counters   domain.CounterStore
	IDs        IDGenerator
	Clock      idgen.Clock
	Tasks      *pool.TaskGroup
	Listeners  []domain.MailListener
	Metrics    *monitoring.Metrics
	Logger     *zap.Logger
}

// Options 流水线行为参数
type Options struct {
	Concurrency   int                       // 单封邮件附件并发写入数
	Granularity   domain.CounterGranularity // 发件人计数粒度
	CounterPrefix string                    // 计数键前缀
}

// Result 一次成功入库的结果
type Result struct {
	Message     *domain.Message
	Attachments []domain.Attachment
	Rejected    int // 被校验器拒绝的附件数
	Failed      int // 校验通过但写入失败的附件数
}

// Pipeline 邮件入库流水线
//
// 只有邮件记录本身无法持久化时才返回错误；附件、计数和通知失败只记录日志。
type Pipeline struct {
	parser      MIMEParser
	normalizer  *content.Normalizer
	validator   *security.AttachmentValidator
	schema      *schema.Validator
	records     domain.RecordStore
	objects     domain.ObjectStore
	counters    domain.CounterStore
	ids         IDGenerator
	clock       idgen.Clock
	tasks       *pool.TaskGroup
	listeners   []domain.MailListener
	metrics     *monitoring.Metrics
	logger      *zap.Logger
	concurrency int
	granularity domain.CounterGranularity
	prefix      string
}

// New 创建入库流水线，缺省的无状态协作者使用默认配置构造
func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Records == nil || deps.Objects == nil {
		return nil, errors.New("ingest: record and object stores are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		parser:      deps.Parser,
		normalizer:  deps.Normalizer,
		validator:   deps.Validator,
		schema:      deps.Schema,
		records:     deps.Records,
		objects:     deps.Objects,
		counters:    deps.Counters,
		ids:         deps.IDs,
		clock:       deps.Clock,
		tasks:       deps.Tasks,
		listeners:   deps.Listeners,
		metrics:     deps.Metrics,
		logger:      logger.Named("ingest"),
		concurrency: opts.Concurrency,
		granularity: opts.Granularity,
		prefix:      opts.CounterPrefix,
	}

	if p.parser == nil {
		p.parser = parser.New(logger)
	}
	if p.normalizer == nil {
		p.normalizer = content.NewNormalizer(config.ContentConfig{}, logger)
	}
	if p.validator == nil {
		p.validator = security.NewAttachmentValidator(config.AttachmentConfig{}, logger)
	}
	if p.schema == nil {
		s, err := schema.New()
		if err != nil {
			return nil, err
		}
		p.schema = s
	}
	if p.ids == nil {
		p.ids = idgen.NewGenerator()
	}
	if p.clock == nil {
		p.clock = idgen.SystemClock{}
	}
	if p.concurrency <= 0 {
		p.concurrency = defaultConcurrency
	}
	if p.granularity == "" {
		p.granularity = domain.GranularityAddress
	}
	return p, nil
}

// Ingest 解析并持久化一封原始邮件
//
// 参数:
//   - raw: RFC 822 原始内容
//   - sender: 信封发件人，为空时使用邮件头 From
//   - recipient: 信封收件人，为空时使用邮件头 To
//
// 返回值:
//   - *Result: 持久化后的邮件与附件
//   - error: ErrParse、ErrSchema 或 ErrPersist
func (p *Pipeline) Ingest(ctx context.Context, raw []byte, sender, recipient string) (*Result, error) {
	start := time.Now()
	res, err := p.ingest(ctx, raw, sender, recipient)
	if err != nil {
		p.metrics.RecordIngest(monitoring.ResultError, time.Since(start))
		return nil, err
	}
	p.metrics.RecordIngest(monitoring.ResultOK, time.Since(start))
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, raw []byte, sender, recipient string) (*Result, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrParse)
	}
	parsed, err := p.parser.Parse(raw)
	if err != nil {
		p.logger.Warn("failed to parse message", zap.Int("bytes", len(raw)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if sender == "" {
		sender = parsed.From
	}
	if recipient == "" {
		recipient = parsed.To
	}

	id := p.ids.MessageID()
	receivedAt := p.clock.Now().Unix()

	htmlBody, textBody := p.normalizer.Normalize(parsed.HTML, parsed.Text)

	accepted := p.validator.Validate(parsed.Attachments, id)
	rejected := len(parsed.Attachments) - len(accepted)
	for i := 0; i < rejected; i++ {
		p.metrics.RecordAttachment(monitoring.ResultRejected, 0)
	}

	msg := &domain.Message{
		ID:              id,
		FromAddress:     domain.NormalizeAddress(sender),
		ToAddress:       domain.NormalizeAddress(recipient),
		Subject:         parsed.Subject,
		ReceivedAt:      receivedAt,
		HTMLContent:     htmlBody,
		TextContent:     textBody,
		HasAttachments:  len(accepted) > 0,
		AttachmentCount: len(accepted),
	}

	if err := p.schema.ValidateMessage(msg); err != nil {
		p.logger.Warn("message failed validation", zap.String("message_id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	if err := p.records.InsertMessage(ctx, msg); err != nil {
		p.logger.Error("failed to store message",
			zap.String("message_id", id),
			zap.String("to", msg.ToAddress),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	stored := p.storeAttachments(ctx, msg, accepted)
	if len(stored) != len(accepted) {
		p.correctAttachmentInfo(ctx, msg, len(stored))
	}

	p.logger.Info("message stored",
		zap.String("message_id", id),
		zap.String("from", msg.FromAddress),
		zap.String("to", msg.ToAddress),
		zap.Int("attachments", len(stored)),
		zap.Int("rejected", rejected),
	)

	p.afterStore(msg)

	return &Result{
		Message:     msg,
		Attachments: stored,
		Rejected:    rejected,
		Failed:      len(accepted) - len(stored),
	}, nil
}

// storeAttachments 并发写入附件，返回成功的附件（保持原始顺序）
func (p *Pipeline) storeAttachments(ctx context.Context, msg *domain.Message, accepted []domain.AcceptedAttachment) []domain.Attachment {
	if len(accepted) == 0 {
		return nil
	}

	results := make([]*domain.Attachment, len(accepted))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range accepted {
		i := i
		g.Go(func() error {
			results[i] = p.storeAttachment(ctx, msg, accepted[i])
			return nil
		})
	}
	_ = g.Wait()

	stored := make([]domain.Attachment, 0, len(accepted))
	for _, att := range results {
		if att != nil {
			stored = append(stored, *att)
		}
	}
	return stored
}

// storeAttachment 先写对象再写元数据，元数据失败时删除已写入的对象
func (p *Pipeline) storeAttachment(ctx context.Context, msg *domain.Message, in domain.AcceptedAttachment) *domain.Attachment {
	attID := p.ids.AttachmentID()
	att := &domain.Attachment{
		ID:          attID,
		EmailID:     msg.ID,
		Filename:    in.Filename,
		ContentType: in.ContentType,
		Size:        in.Size,
		StorageKey:  domain.AttachmentKey(msg.ID, attID, in.Filename),
		CreatedAt:   p.clock.Now().Unix(),
	}
	log := p.logger.With(
		zap.String("message_id", msg.ID),
		zap.String("attachment_id", attID),
		zap.String("filename", in.Filename),
	)

	if err := p.schema.ValidateAttachment(att); err != nil {
		log.Warn("attachment failed validation", zap.Error(err))
		p.metrics.RecordAttachment(monitoring.ResultRejected, in.Size)
		return nil
	}

	if err := p.objects.Put(ctx, att.StorageKey, in.Content, in.ContentType, in.Filename); err != nil {
		log.Error("failed to store attachment blob", zap.Error(err))
		p.metrics.RecordAttachment(monitoring.ResultError, in.Size)
		return nil
	}

	if err := p.records.InsertAttachment(ctx, att); err != nil {
		log.Error("failed to store attachment metadata, deleting blob", zap.Error(err))
		if derr := p.objects.Delete(ctx, att.StorageKey); derr != nil {
			log.Error("compensating blob delete failed",
				zap.String("storage_key", att.StorageKey),
				zap.Error(derr),
			)
		}
		p.metrics.RecordAttachment(monitoring.ResultError, in.Size)
		return nil
	}

	p.metrics.RecordAttachment(monitoring.ResultOK, in.Size)
	return att
}

// correctAttachmentInfo 部分附件失败后修正邮件的附件计数
func (p *Pipeline) correctAttachmentInfo(ctx context.Context, msg *domain.Message, stored int) {
	msg.HasAttachments = stored > 0
	msg.AttachmentCount = stored
	if err := p.records.UpdateMessageAttachmentInfo(ctx, msg.ID, stored > 0, stored); err != nil {
		p.logger.Error("failed to correct attachment count",
			zap.String("message_id", msg.ID),
			zap.Int("stored", stored),
			zap.Error(err),
		)
	}
}

// afterStore 把计数和监听者通知交给后台任务组
func (p *Pipeline) afterStore(msg *domain.Message) {
	snapshot := *msg

	if p.counters != nil {
		key := domain.SenderKey(p.prefix, snapshot.FromAddress, p.granularity)
		p.submit("sender-counter", func(ctx context.Context) error {
			if err := bumpCounter(ctx, p.counters, key); err != nil {
				return fmt.Errorf("increment %s: %w", key, err)
			}
			return nil
		})
	}

	if len(p.listeners) > 0 {
		p.submit("mail-listeners", func(ctx context.Context) error {
			for _, l := range p.listeners {
				l.MessageStored(ctx, &snapshot)
			}
			return nil
		})
	}
}

// submit 无任务组时同步执行，失败只记录日志
func (p *Pipeline) submit(name string, task pool.Task) {
	if p.tasks != nil {
		p.tasks.Go(name, task)
		return
	}
	if err := runSafely(task); err != nil {
		p.logger.Warn("background task failed", zap.String("task", name), zap.Error(err))
	}
}

func runSafely(task pool.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(context.Background())
}

// bumpCounter 优先使用原子自增，否则读取后加一写回
func bumpCounter(ctx context.Context, store domain.CounterStore, key string) error {
	if inc, ok := store.(domain.Incrementer); ok {
		_, err := inc.Incr(ctx, key)
		return err
	}

	current, err := store.Get(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrCounterNotFound) {
		return err
	}
	return store.Put(ctx, key, current+1)
}
