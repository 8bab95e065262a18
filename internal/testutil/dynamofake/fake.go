// Package dynamofake is an in-memory stand-in for the DynamoDB client used in tests.
//
// It understands the small expression vocabulary the stores emit: SET assignments
// (plain values, if_not_exists(...) + :n, x + :n) with an optional trailing REMOVE
// clause, conditions built from
// attribute_exists / attribute_not_exists / = / <> joined with AND / OR, and
// single-attribute equality key conditions on tables and indexes.
// NOTE: This is intentionally minimal and not production-grade.
package dynamofake

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// Fake implements aws.DynamoDBAPI over per-table maps.
type Fake struct {
	mu     sync.Mutex
	keys   map[string]string
	tables map[string]map[string]item

	// Errs forces the named operation ("PutItem", "TransactWriteItems", ...) to fail.
	Errs  map[string]error
	Calls map[string]int
}

// New returns a fake whose tables are keyed by the given partition key attribute names.
func New(tableKeys map[string]string) *Fake {
	f := &Fake{
		keys:   map[string]string{},
		tables: map[string]map[string]item{},
		Errs:   map[string]error{},
		Calls:  map[string]int{},
	}
	for tbl, pk := range tableKeys {
		f.keys[tbl] = pk
		f.tables[tbl] = map[string]item{}
	}
	return f
}

// Item returns a copy of the stored item, or nil.
func (f *Fake) Item(table, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.tables[table][key]
	if !ok {
		return nil
	}
	return clone(it)
}

// Len returns the number of items in table.
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

// Seed stores an item directly, bypassing conditions.
func (f *Fake) Seed(table string, it map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, err := f.keyOf(table, it)
	if err != nil {
		panic(err)
	}
	f.tables[table][k] = clone(it)
}

func (f *Fake) enter(op string) error {
	f.Calls[op]++
	if err, ok := f.Errs[op]; ok && err != nil {
		return err
	}
	return nil
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PutItem"); err != nil {
		return nil, err
	}
	table := *in.TableName
	k, err := f.keyOf(table, in.Item)
	if err != nil {
		return nil, err
	}
	current := f.tables[table][k]
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	f.tables[table][k] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetItem"); err != nil {
		return nil, err
	}
	k, err := f.keyOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := f.tables[*in.TableName][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(it)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateItem"); err != nil {
		return nil, err
	}
	updated, err := f.applyUpdate(*in.TableName, in.Key, in.UpdateExpression, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, true)
	if err != nil {
		return nil, err
	}
	return &dyn.UpdateItemOutput{Attributes: clone(updated)}, nil
}

func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Query"); err != nil {
		return nil, err
	}
	if in.KeyConditionExpression == nil {
		return nil, errors.New("dynamofake: missing key condition")
	}
	var out []item
	for _, it := range f.sorted(*in.TableName) {
		ok, err := evalCondition(in.KeyConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ok, err = evalCondition(in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, clone(it))
		}
		if in.Limit != nil && int32(len(out)) >= *in.Limit {
			break
		}
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("TransactWriteItems"); err != nil {
		return nil, err
	}

	// first pass: evaluate every condition against the current state
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		ok, err := f.checkTransactItem(ti)
		if err != nil {
			return nil, err
		}
		code := "None"
		if !ok {
			code = "ConditionalCheckFailed"
			failed = true
		}
		reasons[i] = types.CancellationReason{Code: strPtr(code)}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	// second pass: apply
	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			k, _ := f.keyOf(*ti.Put.TableName, ti.Put.Item)
			f.tables[*ti.Put.TableName][k] = clone(ti.Put.Item)
		case ti.Update != nil:
			u := ti.Update
			if _, err := f.applyUpdate(*u.TableName, u.Key, u.UpdateExpression, nil, u.ExpressionAttributeNames, u.ExpressionAttributeValues, false); err != nil {
				return nil, err
			}
		case ti.Delete != nil:
			k, _ := f.keyOf(*ti.Delete.TableName, ti.Delete.Key)
			delete(f.tables[*ti.Delete.TableName], k)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) checkTransactItem(ti types.TransactWriteItem) (bool, error) {
	var (
		table string
		key   item
		cond  *string
		names map[string]string
		vals  map[string]types.AttributeValue
	)
	switch {
	case ti.Put != nil:
		table, key, cond, names, vals = *ti.Put.TableName, ti.Put.Item, ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
	case ti.Update != nil:
		table, key, cond, names, vals = *ti.Update.TableName, ti.Update.Key, ti.Update.ConditionExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues
	case ti.Delete != nil:
		table, key, cond, names, vals = *ti.Delete.TableName, ti.Delete.Key, ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues
	case ti.ConditionCheck != nil:
		table, key, cond, names, vals = *ti.ConditionCheck.TableName, ti.ConditionCheck.Key, ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues
	default:
		return false, errors.New("dynamofake: empty transact item")
	}
	k, err := f.keyOf(table, key)
	if err != nil {
		return false, err
	}
	return evalCondition(cond, names, vals, f.tables[table][k])
}

func (f *Fake) applyUpdate(table string, key item, updateExpr, cond *string, names map[string]string, vals map[string]types.AttributeValue, check bool) (item, error) {
	k, err := f.keyOf(table, key)
	if err != nil {
		return nil, err
	}
	current := f.tables[table][k]
	if check {
		ok, err := evalCondition(cond, names, vals, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		}
	}
	next := clone(current)
	if next == nil {
		next = clone(key)
	}
	if updateExpr != nil {
		if err := applySet(*updateExpr, names, vals, next); err != nil {
			return nil, err
		}
	}
	f.tables[table][k] = next
	return next, nil
}

func (f *Fake) keyOf(table string, it item) (string, error) {
	pk, ok := f.keys[table]
	if !ok {
		return "", fmt.Errorf("dynamofake: unknown table %q", table)
	}
	return scalar(it[pk])
}

func (f *Fake) sorted(table string) []item {
	keys := make([]string, 0, len(f.tables[table]))
	for k := range f.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]item, 0, len(keys))
	for _, k := range keys {
		out = append(out, f.tables[table][k])
	}
	return out
}

func applySet(expr string, names map[string]string, vals map[string]types.AttributeValue, it item) error {
	expr, removed, _ := strings.Cut(strings.TrimSpace(expr), " REMOVE ")
	if !strings.HasPrefix(expr, "SET ") {
		return fmt.Errorf("dynamofake: unsupported update expression %q", expr)
	}
	for _, attr := range splitTopLevel(removed, ',') {
		if attr != "" {
			delete(it, resolveName(attr, names))
		}
	}
	for _, assignment := range splitTopLevel(strings.TrimPrefix(expr, "SET "), ',') {
		lhs, rhs, ok := strings.Cut(assignment, "=")
		if !ok {
			return fmt.Errorf("dynamofake: bad assignment %q", assignment)
		}
		attr := resolveName(strings.TrimSpace(lhs), names)
		v, err := evalOperand(strings.TrimSpace(rhs), names, vals, it)
		if err != nil {
			return err
		}
		it[attr] = v
	}
	return nil
}

func evalOperand(rhs string, names map[string]string, vals map[string]types.AttributeValue, it item) (types.AttributeValue, error) {
	if left, right, ok := strings.Cut(rhs, " + "); ok {
		a, err := evalOperand(strings.TrimSpace(left), names, vals, it)
		if err != nil {
			return nil, err
		}
		b, err := evalOperand(strings.TrimSpace(right), names, vals, it)
		if err != nil {
			return nil, err
		}
		x, err := number(a)
		if err != nil {
			return nil, err
		}
		y, err := number(b)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(x+y, 10)}, nil
	}
	if strings.HasPrefix(rhs, "if_not_exists(") && strings.HasSuffix(rhs, ")") {
		args := splitTopLevel(strings.TrimSuffix(strings.TrimPrefix(rhs, "if_not_exists("), ")"), ',')
		if len(args) != 2 {
			return nil, fmt.Errorf("dynamofake: bad if_not_exists %q", rhs)
		}
		if v, ok := it[resolveName(strings.TrimSpace(args[0]), names)]; ok {
			return v, nil
		}
		return evalOperand(strings.TrimSpace(args[1]), names, vals, it)
	}
	if strings.HasPrefix(rhs, ":") {
		v, ok := vals[rhs]
		if !ok {
			return nil, fmt.Errorf("dynamofake: missing value %s", rhs)
		}
		return v, nil
	}
	v, ok := it[resolveName(rhs, names)]
	if !ok {
		return nil, fmt.Errorf("dynamofake: missing attribute %s", rhs)
	}
	return v, nil
}

func evalCondition(expr *string, names map[string]string, vals map[string]types.AttributeValue, it item) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, disjunct := range strings.Split(*expr, " OR ") {
		all := true
		for _, atom := range strings.Split(disjunct, " AND ") {
			ok, err := evalAtom(strings.Trim(strings.TrimSpace(atom), "()"), names, vals, it)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

func evalAtom(atom string, names map[string]string, vals map[string]types.AttributeValue, it item) (bool, error) {
	switch {
	case strings.HasPrefix(atom, "attribute_not_exists("):
		attr := resolveName(strings.TrimPrefix(atom, "attribute_not_exists("), names)
		_, ok := it[attr]
		return !ok, nil
	case strings.HasPrefix(atom, "attribute_exists("):
		attr := resolveName(strings.TrimPrefix(atom, "attribute_exists("), names)
		_, ok := it[attr]
		return ok, nil
	}
	op := " = "
	negate := false
	if strings.Contains(atom, " <> ") {
		op, negate = " <> ", true
	}
	lhs, rhs, ok := strings.Cut(atom, op)
	if !ok {
		return false, fmt.Errorf("dynamofake: unsupported condition %q", atom)
	}
	want, ok := vals[strings.TrimSpace(rhs)]
	if !ok {
		return false, fmt.Errorf("dynamofake: missing value %s", rhs)
	}
	got, present := it[resolveName(strings.TrimSpace(lhs), names)]
	eq := present && equal(got, want)
	if negate {
		return !eq, nil
	}
	return eq, nil
}

func resolveName(n string, names map[string]string) string {
	n = strings.TrimSpace(strings.TrimSuffix(n, ")"))
	if strings.HasPrefix(n, "#") {
		if v, ok := names[n]; ok {
			return v
		}
	}
	return n
}

func splitTopLevel(s string, sep rune) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

func scalar(v types.AttributeValue) (string, error) {
	switch t := v.(type) {
	case *types.AttributeValueMemberS:
		return t.Value, nil
	case *types.AttributeValueMemberN:
		return t.Value, nil
	}
	return "", fmt.Errorf("dynamofake: unsupported key attribute %T", v)
}

func number(v types.AttributeValue) (int64, error) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamofake: not a number: %T", v)
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

func equal(a, b types.AttributeValue) bool {
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && x.Value == y.Value
	}
	return reflect.DeepEqual(a, b)
}

func clone(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }
