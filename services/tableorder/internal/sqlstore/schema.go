package sqlstore

import "fmt"

// NotifyChannel is the PostgreSQL channel the change triggers publish on.
const NotifyChannel = "tableorder_changes"

var notifyTables = []string{"tables", "menu_categories", "menu_items", "orders", "order_items", "app_settings"}

func (postgres) Schema() []string {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tables (
			id TEXT PRIMARY KEY,
			table_no INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tables_active_no ON tables (table_no) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS menu_categories (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS menu_items (
			id TEXT PRIMARY KEY,
			category_id TEXT,
			name TEXT NOT NULL,
			price NUMERIC(10,2) NOT NULL CHECK (price >= 0),
			is_available BOOLEAN NOT NULL DEFAULT TRUE,
			image_url TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			table_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS orders_table_status ON orders (table_id, status)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
			menu_item_id TEXT NOT NULL,
			qty INTEGER NOT NULL CHECK (qty > 0),
			note TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			id INTEGER PRIMARY KEY,
			tax_percent NUMERIC(5,2) NOT NULL DEFAULT 0,
			restaurant_name TEXT NOT NULL DEFAULT 'Restaurant QR Order',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS staff (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE OR REPLACE FUNCTION tableorder_notify() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
				'kind', lower(TG_OP),
				'collection', TG_TABLE_NAME,
				'record', CASE TG_OP WHEN 'DELETE' THEN row_to_json(OLD) ELSE row_to_json(NEW) END
			)::text);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql`,
	}
	for _, table := range notifyTables {
		stmts = append(stmts,
			fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_notify ON %s`, table, table),
			fmt.Sprintf(`CREATE TRIGGER %s_notify AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION tableorder_notify()`, table, table),
		)
	}
	return stmts
}

func (mysqlDialect) Schema() []string {
	return []string{
		"CREATE TABLE IF NOT EXISTS `tables` (" +
			"`id` VARCHAR(36) PRIMARY KEY," +
			"`table_no` INT NOT NULL," +
			"`is_active` TINYINT(1) NOT NULL DEFAULT 1," +
			"`created_at` DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6))",
		"CREATE TABLE IF NOT EXISTS `menu_categories` (" +
			"`id` VARCHAR(36) PRIMARY KEY," +
			"`name` VARCHAR(255) NOT NULL," +
			"`sort_order` INT NOT NULL DEFAULT 0," +
			"`created_at` DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6))",
		"CREATE TABLE IF NOT EXISTS `menu_items` (" +
			"`id` VARCHAR(36) PRIMARY KEY," +
			"`category_id` VARCHAR(36)," +
			"`name` VARCHAR(255) NOT NULL," +
			"`price` DECIMAL(10,2) NOT NULL," +
			"`is_available` TINYINT(1) NOT NULL DEFAULT 1," +
			"`image_url` TEXT," +
			"`created_at` DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6))",
		"CREATE TABLE IF NOT EXISTS `orders` (" +
			"`id` VARCHAR(36) PRIMARY KEY," +
			"`table_id` VARCHAR(36) NOT NULL," +
			"`status` VARCHAR(16) NOT NULL," +
			"`created_at` DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)," +
			"INDEX `orders_table_status` (`table_id`, `status`))",
		"CREATE TABLE IF NOT EXISTS `order_items` (" +
			"`id` VARCHAR(36) PRIMARY KEY," +
			"`order_id` VARCHAR(36) NOT NULL," +
			"`menu_item_id` VARCHAR(36) NOT NULL," +
			"`qty` INT NOT NULL," +
			"`note` TEXT," +
			"`created_at` DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)," +
			"INDEX `order_items_order` (`order_id`))",
		"CREATE TABLE IF NOT EXISTS `app_settings` (" +
			"`id` INT PRIMARY KEY," +
			"`tax_percent` DECIMAL(5,2) NOT NULL DEFAULT 0," +
			"`restaurant_name` VARCHAR(255) NOT NULL DEFAULT 'Restaurant QR Order'," +
			"`created_at` DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)," +
			"`updated_at` DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6))",
		"CREATE TABLE IF NOT EXISTS `staff` (" +
			"`id` VARCHAR(36) PRIMARY KEY," +
			"`email` VARCHAR(255) NOT NULL UNIQUE," +
			"`name` VARCHAR(255)," +
			"`password_hash` VARCHAR(255) NOT NULL," +
			"`created_at` DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6))",
	}
}
