package main

// csv作为存储参与者的数据源, 演示怎么在仓库外面实现 flow.Storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/blingmoon/simple-flow/flow"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var _ flow.Storage = (*CsvStorage)(nil)

var csvHeader = []string{"type", "id", "rev", "participant_name", "wfid", "store_name", "fei", "fields"}

// CsvStorage 所有文档放在一个 CSV 文件里, 每次写入都重写整个文件
// 只适合演示和很小的数据量, revision 每次写入都是新的 uuid, 删除重建也不会重复
type CsvStorage struct {
	file string
	mu   sync.Mutex
}

// NewCsvStorage 文件不存在时创建并写入表头
func NewCsvStorage(file string) (*CsvStorage, error) {
	s := &CsvStorage{file: file}
	if _, err := os.Stat(file); os.IsNotExist(err) {
		if err := s.writeAll(nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *CsvStorage) readAll() ([]*flow.Document, error) {
	file, err := os.Open(s.file)
	if err != nil {
		return nil, errors.WithMessage(err, "open csv file failed")
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, errors.WithMessage(err, "read csv failed")
	}
	ret := make([]*flow.Document, 0, len(records))
	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) < len(csvHeader) {
			continue
		}
		doc := &flow.Document{
			Type:            record[0],
			ID:              record[1],
			Rev:             record[2],
			ParticipantName: record[3],
			Wfid:            record[4],
			StoreName:       record[5],
			Fields:          make(map[string]any),
		}
		if record[6] != "" {
			doc.Fei = &flow.FlowExpressionID{}
			if err := json.Unmarshal([]byte(record[6]), doc.Fei); err != nil {
				return nil, errors.WithMessagef(err, "unmarshal fei failed, id: %s", doc.ID)
			}
		}
		if err := json.Unmarshal([]byte(record[7]), &doc.Fields); err != nil {
			return nil, errors.WithMessagef(err, "unmarshal fields failed, id: %s", doc.ID)
		}
		ret = append(ret, doc)
	}
	return ret, nil
}

func (s *CsvStorage) writeAll(docs []*flow.Document) error {
	file, err := os.Create(s.file)
	if err != nil {
		return errors.WithMessage(err, "create csv file failed")
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, doc := range docs {
		fields, err := json.Marshal(doc.Fields)
		if err != nil {
			return errors.WithMessagef(err, "marshal fields failed, id: %s", doc.ID)
		}
		fei := []byte{}
		if doc.Fei != nil {
			if fei, err = json.Marshal(doc.Fei); err != nil {
				return errors.WithMessagef(err, "marshal fei failed, id: %s", doc.ID)
			}
		}
		row := []string{
			doc.Type,
			doc.ID,
			doc.Rev,
			doc.ParticipantName,
			doc.Wfid,
			doc.StoreName,
			string(fei),
			string(fields),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func find(docs []*flow.Document, typ string, id string) int {
	for i, doc := range docs {
		if doc.Type == typ && doc.ID == id {
			return i
		}
	}
	return -1
}

func (s *CsvStorage) Get(ctx context.Context, typ string, id string) (*flow.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readAll()
	if err != nil {
		return nil, err
	}
	if i := find(records, typ, id); i >= 0 {
		return records[i], nil
	}
	return nil, nil
}

func (s *CsvStorage) Put(ctx context.Context, doc *flow.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readAll()
	if err != nil {
		return err
	}
	stored := *doc
	stored.Rev = uuid.NewString()
	i := find(records, doc.Type, doc.ID)
	if i < 0 {
		if doc.Rev != "" {
			return &flow.ConflictError{Type: doc.Type, ID: doc.ID}
		}
		records = append(records, &stored)
	} else {
		if doc.Rev != records[i].Rev {
			return &flow.ConflictError{Type: doc.Type, ID: doc.ID, CurrentRev: records[i].Rev}
		}
		records[i] = &stored
	}
	if err := s.writeAll(records); err != nil {
		return err
	}
	doc.Rev = stored.Rev
	return nil
}

func (s *CsvStorage) Delete(ctx context.Context, doc *flow.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readAll()
	if err != nil {
		return err
	}
	i := find(records, doc.Type, doc.ID)
	if i < 0 {
		return nil
	}
	if doc.Rev != records[i].Rev {
		return &flow.ConflictError{Type: doc.Type, ID: doc.ID, CurrentRev: records[i].Rev}
	}
	return s.writeAll(append(records[:i], records[i+1:]...))
}

func (s *CsvStorage) GetMany(ctx context.Context, typ string, pattern *flow.KeyPattern) ([]*flow.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readAll()
	if err != nil {
		return nil, err
	}
	ret := make([]*flow.Document, 0)
	for _, doc := range records {
		if doc.Type == typ && pattern.Match(doc.ID) {
			ret = append(ret, doc)
		}
	}
	return ret, nil
}

func main() {
	storage, err := NewCsvStorage("workitems.csv")
	if err != nil {
		panic(err)
	}
	engine := flow.WorkitemReceiverFunc(func(ctx context.Context, workitem *flow.Workitem) error {
		approved, _ := workitem.Fields.GetBool("approved")
		fmt.Printf("工作项 %s 回到引擎, approved: %v\n", workitem.Fei, approved)
		return nil
	})
	participant, err := flow.NewStorageParticipant(storage, engine, &flow.StorageParticipantOptions{StoreName: "approval"})
	if err != nil {
		panic(err)
	}

	ctx := context.Background()
	wi := flow.NewWorkitem(flow.FlowExpressionID{Wfid: flow.NewWfid(), ExpID: "0_0"}, map[string]any{
		"order_id": "ORDER-2024-001",
		"amount":   1000.00,
	})
	wi.ParticipantName = "manager"
	if err := participant.Consume(ctx, wi); err != nil {
		panic(err)
	}

	// 审批人从 CSV 里面找到自己的工作项
	workitems, err := participant.ByParticipant(ctx, "manager")
	if err != nil {
		panic(err)
	}
	for _, item := range workitems {
		item.SetField("approved", true)
		if err := participant.Reply(ctx, item); err != nil {
			panic(err)
		}
	}
}
