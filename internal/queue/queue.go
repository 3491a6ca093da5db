// Package queue はドキュメント単位のバックグラウンドタスクを到着順に1件ずつ
// 実行するインメモリキューを提供します。実行履歴もプロセス内に保持するため、
// List で過去のタスクの状態を参照できます。
package queue

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status はタスクの実行状態を表します。
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal は終了状態かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Task は遅延実行される1件の作業とその実行状態を表します。
// Status と Error はドレインループだけが書き換えます。
type Task struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ResourceKey string    `json:"resourceKey"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`

	work func() error
}

// Filter は List の絞り込み条件です。ゼロ値のフィールドは全件にマッチします。
type Filter struct {
	Name        string
	Status      Status
	ResourceKey string
}

// Subscriber はタスクの状態が書き込まれるたびにスナップショットを受け取ります。
// Subscriber の中から Enqueue を呼び出してはいけません（通知順序を直列化する
// ロックを保持したまま呼び出されるため）。
type Subscriber func(Task)

type subscriberEntry struct {
	id int
	fn Subscriber
}

// TaskQueue は単一プロセス内のタスクキューです。同時に実行されるタスクは
// 常に1件で、実行順序は到着順です。
type TaskQueue struct {
	mu          sync.Mutex
	tasks       []*Task
	running     bool
	subscribers []subscriberEntry
	nextSubID   int

	// notifyMu は状態遷移と通知の組を直列化し、購読者が遷移を
	// 発生順に観測できることを保証します。
	notifyMu sync.Mutex

	historyLimit int
	logger       *log.Logger
}

// New は TaskQueue を作成します。historyLimit が正の場合、終了済みタスクは
// 古いものから上限件数まで間引かれます。0 を渡すと履歴は無制限です。
func New(historyLimit int, logger *log.Logger) *TaskQueue {
	if logger == nil {
		logger = log.Default()
	}
	return &TaskQueue{
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Enqueue はタスクを pending 状態で追加し、実行を待たずにIDを返します。
// work の妥当性はここでは検証しません。nil の場合は実行時に failed として
// 記録されます。
func (q *TaskQueue) Enqueue(work func() error, name, resourceKey string) string {
	task := &Task{
		ID:          uuid.NewString(),
		Name:        name,
		ResourceKey: resourceKey,
		Status:      StatusPending,
		EnqueuedAt:  time.Now().UTC(),
		work:        work,
	}

	q.notifyMu.Lock()
	q.mu.Lock()
	q.evictLocked()
	q.tasks = append(q.tasks, task)
	snapshot := *task
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()
	q.deliver(snapshot)
	q.notifyMu.Unlock()

	if start {
		go q.drain()
	}
	return task.ID
}

// List は条件に一致するタスクのスナップショットを到着順に返します。
func (q *TaskQueue) List(filter Filter) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		if filter.Name != "" && t.Name != filter.Name {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.ResourceKey != "" && t.ResourceKey != filter.ResourceKey {
			continue
		}
		out = append(out, *t)
	}
	return out
}

// Subscribe は購読者を登録し、解除用の関数を返します。解除関数は何度
// 呼んでも安全です。
func (q *TaskQueue) Subscribe(fn Subscriber) func() {
	q.mu.Lock()
	id := q.nextSubID
	q.nextSubID++
	q.subscribers = append(q.subscribers, subscriberEntry{id: id, fn: fn})
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		for i, s := range q.subscribers {
			if s.id == id {
				q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
				return
			}
		}
	}
}

// drain は pending のタスクがなくなるまで1件ずつ実行します。
// タスクの失敗はそのタスクに記録するだけで、ループは継続します。
func (q *TaskQueue) drain() {
	for {
		q.mu.Lock()
		var task *Task
		for _, t := range q.tasks {
			if t.Status == StatusPending {
				task = t
				break
			}
		}
		if task == nil {
			q.running = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		q.transition(task, StatusRunning, nil)
		err := invoke(task)
		if err != nil {
			q.logger.Printf("task failed id=%s name=%s resource=%s: %v", task.ID, task.Name, task.ResourceKey, err)
			q.transition(task, StatusFailed, err)
		} else {
			q.transition(task, StatusDone, nil)
		}
	}
}

func (q *TaskQueue) transition(task *Task, status Status, cause error) {
	q.notifyMu.Lock()
	q.mu.Lock()
	task.Status = status
	if cause != nil {
		task.Error = cause.Error()
	}
	snapshot := *task
	q.mu.Unlock()
	q.deliver(snapshot)
	q.notifyMu.Unlock()
}

// deliver は登録順に購読者へ通知します。呼び出し元が notifyMu を保持します。
func (q *TaskQueue) deliver(task Task) {
	q.mu.Lock()
	subs := make([]subscriberEntry, len(q.subscribers))
	copy(subs, q.subscribers)
	q.mu.Unlock()

	for _, s := range subs {
		q.safeNotify(s.fn, task)
	}
}

// safeNotify は購読者の panic を回収し、他の購読者への通知とドレイン
// ループを巻き込まないようにします。
func (q *TaskQueue) safeNotify(fn Subscriber, task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Printf("task subscriber panicked: %v", r)
		}
	}()
	fn(task)
}

// invoke はタスク本体を実行します。panic と nil の work はタスクの失敗として
// 回収します。
func invoke(task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if task.work == nil {
		return fmt.Errorf("task has no work function")
	}
	return task.work()
}

// evictLocked は historyLimit を超えた終了済みタスクを古い順に取り除きます。
// pending/running のタスクは対象外です。呼び出し元が q.mu を保持します。
func (q *TaskQueue) evictLocked() {
	if q.historyLimit <= 0 {
		return
	}
	terminal := 0
	for _, t := range q.tasks {
		if t.Status.Terminal() {
			terminal++
		}
	}
	for i := 0; terminal > q.historyLimit && i < len(q.tasks); {
		if q.tasks[i].Status.Terminal() {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			terminal--
			continue
		}
		i++
	}
}
