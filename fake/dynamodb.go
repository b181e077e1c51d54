package fake

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type ddbTable struct {
	name      string
	keySchema []types.KeySchemaElement
	items     map[string]map[string]types.AttributeValue
}

type ddbState struct {
	mu     sync.Mutex
	tables map[string]*ddbTable

	// batchWriteHook, when set, runs before every BatchWriteItem and may
	// return an error or a set of requests to report as unprocessed.
	batchWriteHook func(call int, in *dynamodb.BatchWriteItemInput) (map[string][]types.WriteRequest, error)
	batchCalls     int
}

// DynamoDB is an in-memory DynamoDB client.
type DynamoDB struct {
	st *ddbState
}

// NewDynamoDB returns a DynamoDB fake without tables.
func NewDynamoDB() *DynamoDB {
	return &DynamoDB{st: &ddbState{tables: make(map[string]*ddbTable)}}
}

func (f *DynamoDB) handle() *DynamoDB {
	return &DynamoDB{st: f.st}
}

// OnBatchWrite installs a hook consulted by BatchWriteItem. The hook sees a
// 1-based call counter. Returned unprocessed requests are not written.
func (f *DynamoDB) OnBatchWrite(hook func(call int, in *dynamodb.BatchWriteItemInput) (map[string][]types.WriteRequest, error)) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.batchWriteHook = hook
	f.st.batchCalls = 0
}

func (f *DynamoDB) table(name string) (*ddbTable, error) {
	t, ok := f.st.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String(fmt.Sprintf("Requested resource not found: Table: %s not found", name))}
	}
	return t, nil
}

func (t *ddbTable) key(attrs map[string]types.AttributeValue) (string, error) {
	parts := make([]string, 0, len(t.keySchema))
	for _, k := range t.keySchema {
		name := aws.ToString(k.AttributeName)
		v, ok := attrs[name]
		if !ok {
			return "", fmt.Errorf("ValidationException: missing key attribute %s", name)
		}
		s, err := scalar(v)
		if err != nil {
			return "", fmt.Errorf("ValidationException: key attribute %s: %w", name, err)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\x00"), nil
}

func scalar(v types.AttributeValue) (string, error) {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + tv.Value, nil
	case *types.AttributeValueMemberN:
		return "N:" + tv.Value, nil
	case *types.AttributeValueMemberB:
		return fmt.Sprintf("B:%x", tv.Value), nil
	default:
		return "", fmt.Errorf("unsupported key type %T", v)
	}
}

func description(t *ddbTable) *types.TableDescription {
	return &types.TableDescription{
		TableName:   aws.String(t.name),
		TableStatus: types.TableStatusActive,
		KeySchema:   t.keySchema,
		ItemCount:   aws.Int64(int64(len(t.items))),
	}
}

// CreateTable creates an ACTIVE table. Re-creating fails with ResourceInUseException.
func (f *DynamoDB) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	name := aws.ToString(params.TableName)
	if len(params.KeySchema) == 0 {
		return nil, fmt.Errorf("ValidationException: key schema is required")
	}
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	if _, ok := f.st.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String(fmt.Sprintf("Table already exists: %s", name))}
	}
	t := &ddbTable{
		name:      name,
		keySchema: append([]types.KeySchemaElement(nil), params.KeySchema...),
		items:     make(map[string]map[string]types.AttributeValue),
	}
	f.st.tables[name] = t
	return &dynamodb.CreateTableOutput{TableDescription: description(t)}, nil
}

// DescribeTable reports the table as ACTIVE.
func (f *DynamoDB) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	t, err := f.table(aws.ToString(params.TableName))
	if err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: description(t)}, nil
}

// PutItem stores an item, replacing any item with the same key.
func (f *DynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	t, err := f.table(aws.ToString(params.TableName))
	if err != nil {
		return nil, err
	}
	return &dynamodb.PutItemOutput{}, t.put(params.Item)
}

func (t *ddbTable) put(item map[string]types.AttributeValue) error {
	k, err := t.key(item)
	if err != nil {
		return err
	}
	stored := make(map[string]types.AttributeValue, len(item))
	for name, v := range item {
		stored[name] = v
	}
	t.items[k] = stored
	return nil
}

// GetItem returns the item with the given key, or no item.
func (f *DynamoDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	t, err := f.table(aws.ToString(params.TableName))
	if err != nil {
		return nil, err
	}
	k, err := t.key(params.Key)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: t.items[k]}, nil
}

// DeleteItem removes the item with the given key.
func (f *DynamoDB) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	t, err := f.table(aws.ToString(params.TableName))
	if err != nil {
		return nil, err
	}
	k, err := t.key(params.Key)
	if err != nil {
		return nil, err
	}
	delete(t.items, k)
	return &dynamodb.DeleteItemOutput{}, nil
}

// Scan returns items in key order, paginated by Limit and ExclusiveStartKey.
func (f *DynamoDB) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	t, err := f.table(aws.ToString(params.TableName))
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if params.ExclusiveStartKey != nil {
		start, err := t.key(params.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		i := sort.SearchStrings(keys, start)
		if i < len(keys) && keys[i] == start {
			i++
		}
		keys = keys[i:]
	}

	limit := int(aws.ToInt32(params.Limit))
	var last map[string]types.AttributeValue
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
		last = make(map[string]types.AttributeValue)
		lastItem := t.items[keys[len(keys)-1]]
		for _, ks := range t.keySchema {
			name := aws.ToString(ks.AttributeName)
			last[name] = lastItem[name]
		}
	}

	out := &dynamodb.ScanOutput{
		Count:            int32(len(keys)),
		ScannedCount:     int32(len(keys)),
		LastEvaluatedKey: last,
	}
	for _, k := range keys {
		out.Items = append(out.Items, t.items[k])
	}
	return out, nil
}

// BatchWriteItem applies puts and deletes across tables.
func (f *DynamoDB) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()

	total := 0
	for _, reqs := range params.RequestItems {
		total += len(reqs)
	}
	if total > 25 {
		return nil, fmt.Errorf("ValidationException: too many items requested for the BatchWriteItem call")
	}
	for name, reqs := range params.RequestItems {
		t, err := f.table(name)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(reqs))
		for _, r := range reqs {
			var k string
			switch {
			case r.PutRequest != nil:
				k, err = t.key(r.PutRequest.Item)
			case r.DeleteRequest != nil:
				k, err = t.key(r.DeleteRequest.Key)
			}
			if err != nil {
				return nil, err
			}
			if seen[k] {
				return nil, fmt.Errorf("ValidationException: Provided list of item keys contains duplicates")
			}
			seen[k] = true
		}
	}

	f.st.batchCalls++
	var unprocessed map[string][]types.WriteRequest
	if f.st.batchWriteHook != nil {
		var err error
		if unprocessed, err = f.st.batchWriteHook(f.st.batchCalls, params); err != nil {
			return nil, err
		}
	}
	skip := make(map[*types.PutRequest]bool)
	for _, reqs := range unprocessed {
		for _, r := range reqs {
			if r.PutRequest != nil {
				skip[r.PutRequest] = true
			}
		}
	}

	for name, reqs := range params.RequestItems {
		t, err := f.table(name)
		if err != nil {
			return nil, err
		}
		for _, r := range reqs {
			switch {
			case r.PutRequest != nil:
				if skip[r.PutRequest] {
					continue
				}
				if err := t.put(r.PutRequest.Item); err != nil {
					return nil, err
				}
			case r.DeleteRequest != nil:
				k, err := t.key(r.DeleteRequest.Key)
				if err != nil {
					return nil, err
				}
				delete(t.items, k)
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{UnprocessedItems: unprocessed}, nil
}

// ItemCount returns the number of items in a table; used by tests.
func (f *DynamoDB) ItemCount(table string) int {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	t, ok := f.st.tables[table]
	if !ok {
		return 0
	}
	return len(t.items)
}
