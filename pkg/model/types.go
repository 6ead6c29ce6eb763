package model

import (
	"time"

	"netpulse/pkg/traffic"
)

// TaskType 任务类型
type TaskType string

const (
	TaskTypePlain    TaskType = "plain"
	TaskTypeUpload   TaskType = "upload"
	TaskTypeDownload TaskType = "download"
	TaskTypeStream   TaskType = "stream"
)

// EventType 事件类型
type EventType string

const (
	EventTaskCreated   EventType = "taskCreated"
	EventTaskProgress  EventType = "taskProgress"
	EventTaskCompleted EventType = "taskCompleted"
)

// Event 生命周期事件，构建后不可修改
type Event interface {
	Type() EventType
	// URL 返回用于过滤的请求地址
	URL() string
}

// TaskCreated 任务创建事件
type TaskCreated struct {
	TaskID          string           `json:"taskId"`
	TaskType        TaskType         `json:"taskType"`
	CreatedAt       time.Time        `json:"createdAt"`
	OriginalRequest traffic.Request  `json:"originalRequest"`
	CurrentRequest  *traffic.Request `json:"currentRequest,omitempty"`
	SessionID       string           `json:"sessionId"`
}

func (TaskCreated) Type() EventType { return EventTaskCreated }

func (e TaskCreated) URL() string { return e.OriginalRequest.URL }

// TaskProgress 传输进度事件
type TaskProgress struct {
	TaskID     string `json:"taskId"`
	RequestURL string `json:"url"`
	Completed  int64  `json:"completed"`
	Total      int64  `json:"total"`
}

func (TaskProgress) Type() EventType { return EventTaskProgress }

func (e TaskProgress) URL() string { return e.RequestURL }

// TaskCompleted 任务完成事件
type TaskCompleted struct {
	TaskID          string            `json:"taskId"`
	TaskType        TaskType          `json:"taskType"`
	CreatedAt       time.Time         `json:"createdAt"`
	Duration        time.Duration     `json:"duration"`
	OriginalRequest traffic.Request   `json:"originalRequest"`
	CurrentRequest  *traffic.Request  `json:"currentRequest,omitempty"`
	Response        *traffic.Response `json:"response,omitempty"`
	Error           *TaskError        `json:"error,omitempty"`
	RequestBody     []byte            `json:"requestBody,omitempty"`
	ResponseBody    []byte            `json:"responseBody,omitempty"`
	Metrics         *Metrics          `json:"metrics,omitempty"`
	SessionID       string            `json:"sessionId"`
}

func (TaskCompleted) Type() EventType { return EventTaskCompleted }

func (e TaskCompleted) URL() string { return e.OriginalRequest.URL }

// Envelope 带类型标签的事件封装，供序列化使用
type Envelope struct {
	Type  EventType `json:"type"`
	Event Event     `json:"event"`
}

// Wrap 封装事件
func Wrap(ev Event) Envelope {
	return Envelope{Type: ev.Type(), Event: ev}
}
