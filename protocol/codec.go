package protocol

import (
	"fmt"

	commandpb "go.temporal.io/api/command/v1"
	commonpb "go.temporal.io/api/common/v1"
	failurepb "go.temporal.io/api/failure/v1"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Field numbers for the hand-encoded envelope messages. These are part of
// the wire contract and must not change.
const (
	activationFieldRunID     = 1
	activationFieldTimestamp = 2
	activationFieldJobs      = 3

	jobFieldStartWorkflow = 1
	jobFieldFireTimer     = 2

	startWorkflowFieldWorkflowID   = 1
	startWorkflowFieldWorkflowType = 2
	startWorkflowFieldArguments    = 3

	fireTimerFieldTimerID = 1

	completeTaskFieldTaskToken = 1
	completeTaskFieldWorkflow  = 2

	completionFieldSuccessful = 1
	completionFieldFailed     = 2

	successFieldCommands = 1
)

// marshalOpts keeps embedded message encoding byte-stable across runs, which
// matters for payload metadata maps.
var marshalOpts = proto.MarshalOptions{Deterministic: true}

func appendMessage(b []byte, num protowire.Number, m proto.Message) ([]byte, error) {
	raw, err := marshalOpts.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal embedded message: %w", err)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, raw)
	return b, nil
}

// MarshalActivation encodes an activation in protobuf wire format.
func MarshalActivation(a *Activation) ([]byte, error) {
	var b []byte
	if a.RunID != "" {
		b = protowire.AppendTag(b, activationFieldRunID, protowire.BytesType)
		b = protowire.AppendString(b, a.RunID)
	}
	if a.Timestamp != nil {
		var err error
		if b, err = appendMessage(b, activationFieldTimestamp, a.Timestamp); err != nil {
			return nil, err
		}
	}
	for _, job := range a.Jobs {
		raw, err := marshalJob(job)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, activationFieldJobs, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}
	return b, nil
}

func marshalJob(j *Job) ([]byte, error) {
	var b []byte
	switch {
	case j.StartWorkflow != nil:
		raw, err := marshalStartWorkflow(j.StartWorkflow)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, jobFieldStartWorkflow, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	case j.FireTimer != nil:
		var inner []byte
		inner = protowire.AppendTag(inner, fireTimerFieldTimerID, protowire.BytesType)
		inner = protowire.AppendString(inner, j.FireTimer.TimerID)
		b = protowire.AppendTag(b, jobFieldFireTimer, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	default:
		return nil, fmt.Errorf("job has no variant set")
	}
	return b, nil
}

func marshalStartWorkflow(sw *StartWorkflowJob) ([]byte, error) {
	var b []byte
	if sw.WorkflowID != "" {
		b = protowire.AppendTag(b, startWorkflowFieldWorkflowID, protowire.BytesType)
		b = protowire.AppendString(b, sw.WorkflowID)
	}
	if sw.WorkflowType != "" {
		b = protowire.AppendTag(b, startWorkflowFieldWorkflowType, protowire.BytesType)
		b = protowire.AppendString(b, sw.WorkflowType)
	}
	if sw.Arguments != nil {
		var err error
		if b, err = appendMessage(b, startWorkflowFieldArguments, sw.Arguments); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// MarshalCompleteTask encodes a task completion in protobuf wire format.
func MarshalCompleteTask(ct *CompleteTask) ([]byte, error) {
	var b []byte
	if len(ct.TaskToken) > 0 {
		b = protowire.AppendTag(b, completeTaskFieldTaskToken, protowire.BytesType)
		b = protowire.AppendBytes(b, ct.TaskToken)
	}
	if ct.Completion != nil {
		raw, err := marshalCompletion(ct.Completion)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, completeTaskFieldWorkflow, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}
	return b, nil
}

func marshalCompletion(c *Completion) ([]byte, error) {
	var b []byte
	switch {
	case c.Successful != nil:
		var inner []byte
		for _, cmd := range c.Successful.Commands {
			var err error
			if inner, err = appendMessage(inner, successFieldCommands, cmd); err != nil {
				return nil, err
			}
		}
		b = protowire.AppendTag(b, completionFieldSuccessful, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	case c.Failed != nil:
		var err error
		if b, err = appendMessage(b, completionFieldFailed, c.Failed); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("completion has no variant set")
	}
	return b, nil
}

// UnmarshalActivation decodes an activation from protobuf wire format.
// Unknown fields are skipped.
func UnmarshalActivation(data []byte) (*Activation, error) {
	a := &Activation{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("activation: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == activationFieldRunID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("activation run id: %w", protowire.ParseError(n))
			}
			a.RunID = v
			data = data[n:]
		case num == activationFieldTimestamp && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("activation timestamp: %w", protowire.ParseError(n))
			}
			ts := &timestamppb.Timestamp{}
			if err := proto.Unmarshal(raw, ts); err != nil {
				return nil, fmt.Errorf("activation timestamp: %w", err)
			}
			a.Timestamp = ts
			data = data[n:]
		case num == activationFieldJobs && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("activation job: %w", protowire.ParseError(n))
			}
			job, err := unmarshalJob(raw)
			if err != nil {
				return nil, err
			}
			a.Jobs = append(a.Jobs, job)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("activation field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return a, nil
}

func unmarshalJob(data []byte) (*Job, error) {
	j := &Job{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("job: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == jobFieldStartWorkflow && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("start workflow job: %w", protowire.ParseError(n))
			}
			sw, err := unmarshalStartWorkflow(raw)
			if err != nil {
				return nil, err
			}
			j.StartWorkflow = sw
			data = data[n:]
		case num == jobFieldFireTimer && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("fire timer job: %w", protowire.ParseError(n))
			}
			ft, err := unmarshalFireTimer(raw)
			if err != nil {
				return nil, err
			}
			j.FireTimer = ft
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("job field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if j.StartWorkflow == nil && j.FireTimer == nil {
		return nil, fmt.Errorf("job has no variant set")
	}
	return j, nil
}

func unmarshalStartWorkflow(data []byte) (*StartWorkflowJob, error) {
	sw := &StartWorkflowJob{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("start workflow job: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == startWorkflowFieldWorkflowID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("workflow id: %w", protowire.ParseError(n))
			}
			sw.WorkflowID = v
			data = data[n:]
		case num == startWorkflowFieldWorkflowType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("workflow type: %w", protowire.ParseError(n))
			}
			sw.WorkflowType = v
			data = data[n:]
		case num == startWorkflowFieldArguments && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("workflow arguments: %w", protowire.ParseError(n))
			}
			args := &commonpb.Payloads{}
			if err := proto.Unmarshal(raw, args); err != nil {
				return nil, fmt.Errorf("workflow arguments: %w", err)
			}
			sw.Arguments = args
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("start workflow field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return sw, nil
}

func unmarshalFireTimer(data []byte) (*FireTimerJob, error) {
	ft := &FireTimerJob{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("fire timer job: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num == fireTimerFieldTimerID && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("timer id: %w", protowire.ParseError(n))
			}
			ft.TimerID = v
			data = data[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("fire timer field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return ft, nil
}

// UnmarshalCompleteTask decodes a task completion from protobuf wire format.
func UnmarshalCompleteTask(data []byte) (*CompleteTask, error) {
	ct := &CompleteTask{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("complete task: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == completeTaskFieldTaskToken && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("task token: %w", protowire.ParseError(n))
			}
			ct.TaskToken = append([]byte(nil), v...)
			data = data[n:]
		case num == completeTaskFieldWorkflow && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("completion: %w", protowire.ParseError(n))
			}
			c, err := unmarshalCompletion(raw)
			if err != nil {
				return nil, err
			}
			ct.Completion = c
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("complete task field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return ct, nil
}

func unmarshalCompletion(data []byte) (*Completion, error) {
	c := &Completion{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("completion: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == completionFieldSuccessful && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("successful completion: %w", protowire.ParseError(n))
			}
			s, err := unmarshalSuccess(raw)
			if err != nil {
				return nil, err
			}
			c.Successful = s
			data = data[n:]
		case num == completionFieldFailed && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("failed completion: %w", protowire.ParseError(n))
			}
			f := &failurepb.Failure{}
			if err := proto.Unmarshal(raw, f); err != nil {
				return nil, fmt.Errorf("failed completion: %w", err)
			}
			c.Failed = f
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("completion field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return c, nil
}

func unmarshalSuccess(data []byte) (*Success, error) {
	s := &Success{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("success: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num == successFieldCommands && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("command: %w", protowire.ParseError(n))
			}
			cmd := &commandpb.Command{}
			if err := proto.Unmarshal(raw, cmd); err != nil {
				return nil, fmt.Errorf("command: %w", err)
			}
			s.Commands = append(s.Commands, cmd)
			data = data[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("success field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return s, nil
}
